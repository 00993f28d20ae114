package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// recvBufBytes raises the socket receive buffer above the kernel
// default so a burst of malformed datagrams cannot cause legitimate
// SPA packets to be dropped at the socket layer before C1 ever sees
// them.
const recvBufBytes = 4 * 1024 * 1024

// MaxSPAPacketLen bounds a single read; it matches spa.MaxSPAPacketLen
// but is kept independent so netio has no import-cycle dependency on
// the pipeline package.
const MaxSPAPacketLen = 1500

// packetPool reuses read buffers the way the teacher's bfd.PacketPool
// does for Control packets.
var packetPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxSPAPacketLen)
		return &buf
	},
}

// PacketMeta carries the transport metadata captured at recv time that
// §3's packet record requires: source and destination IP and port.
type PacketMeta struct {
	SrcIP   net.IP
	SrcPort int
	DstIP   net.IP
	DstPort int
}

// ListenerConfig configures the single UDP collector socket.
type ListenerConfig struct {
	// Addr is the local address to bind to; an unspecified address
	// binds all interfaces.
	Addr netip.Addr

	// Port is the UDP port the collector listens on.
	Port uint16
}

// Listener is the plain UDP SPA collector: a non-blocking socket plus
// destination-address capture via IP_PKTINFO control messages (no
// GTSM/TTL validation — that defense belongs to a BFD-style adjacency
// check, not an SPA server, which expects datagrams from anywhere).
type Listener struct {
	pconn *ipv4.PacketConn
	port  int
}

// NewListener creates a Listener bound to cfg.Addr:cfg.Port.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	udpAddr := &net.UDPAddr{IP: cfg.Addr.AsSlice(), Port: int(cfg.Port)}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("netio: listen: %w", err)
	}

	if err := setRecvBuffer(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("netio: set receive buffer: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetControlMessage(ipv4.FlagDst, true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("netio: enable destination capture: %w", err)
	}

	return &Listener{pconn: pconn, port: int(cfg.Port)}, nil
}

// NewListenerFromConn wraps an already-bound UDP connection; useful
// for tests that supply a loopback socket.
func NewListenerFromConn(conn *net.UDPConn) (*Listener, error) {
	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetControlMessage(ipv4.FlagDst, true); err != nil {
		return nil, fmt.Errorf("netio: enable destination capture: %w", err)
	}
	return &Listener{pconn: pconn}, nil
}

// setRecvBuffer raises SO_RCVBUF on the underlying file descriptor.
// Best-effort: some sandboxed environments cap it below recvBufBytes,
// which the kernel silently clamps rather than erroring.
func setRecvBuffer(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscall conn: %w", err)
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		//nolint:gosec // fd uintptr->int is safe; kernel FDs are always small positive integers.
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufBytes)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	return sockErr
}

// Recv blocks until one datagram is received or ctx is cancelled. The
// returned buffer is pool-owned; callers MUST call ReleaseBuffer(buf)
// once done with it.
func (l *Listener) Recv(ctx context.Context) ([]byte, PacketMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, PacketMeta{}, fmt.Errorf("netio: %w", err)
	}

	bufp, ok := packetPool.Get().(*[]byte)
	if !ok {
		return nil, PacketMeta{}, fmt.Errorf("netio: packet pool type assertion failed")
	}

	// Cancelling ctx expires the read deadline, which unblocks ReadFrom.
	_ = l.pconn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.pconn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, cm, src, err := l.pconn.ReadFrom(*bufp)
	if err != nil {
		packetPool.Put(bufp)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, PacketMeta{}, fmt.Errorf("netio: %w", ctxErr)
		}
		return nil, PacketMeta{}, fmt.Errorf("netio: read: %w", err)
	}

	meta := PacketMeta{DstPort: l.port}
	if udpAddr, ok := src.(*net.UDPAddr); ok {
		meta.SrcIP = udpAddr.IP
		meta.SrcPort = udpAddr.Port
	}
	if cm != nil {
		meta.DstIP = cm.Dst
	}

	return (*bufp)[:n], meta, nil
}

// ReleaseBuffer returns a buffer obtained from Recv to the pool.
func ReleaseBuffer(buf []byte) {
	full := buf[:cap(buf)]
	packetPool.Put(&full)
}

// LocalAddr returns the socket's bound local address.
func (l *Listener) LocalAddr() net.Addr {
	return l.pconn.LocalAddr()
}

// Close closes the underlying socket.
func (l *Listener) Close() error {
	if err := l.pconn.Close(); err != nil {
		return fmt.Errorf("netio: close: %w", err)
	}
	return nil
}
