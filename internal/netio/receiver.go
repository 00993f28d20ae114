package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoListeners indicates that Run was called without any listeners.
var ErrNoListeners = errors.New("receiver run: no listeners provided")

// Demuxer routes one classified datagram into the intake pipeline.
// This interface decouples netio from internal/spa to avoid a tight
// coupling between the transport and pipeline packages.
type Demuxer interface {
	IncomingSPA(ctx context.Context, raw []byte, srcAddr *net.UDPAddr, dstIP net.IP, dstPort int) error
}

// Receiver reads datagrams from one or more Listeners and routes them
// to a Demuxer.
type Receiver struct {
	demuxer Demuxer
	logger  *slog.Logger
}

// NewReceiver creates a Receiver that routes packets to the given
// Demuxer.
func NewReceiver(demuxer Demuxer, logger *slog.Logger) *Receiver {
	return &Receiver{
		demuxer: demuxer,
		logger:  logger.With(slog.String("component", "netio.receiver")),
	}
}

// Run reads from all listeners concurrently until ctx is cancelled.
// Each listener gets its own goroutine. Run blocks until all listener
// goroutines complete.
func (r *Receiver) Run(ctx context.Context, listeners ...*Listener) error {
	if len(listeners) == 0 {
		return fmt.Errorf("receiver: %w", ErrNoListeners)
	}

	done := make(chan struct{}, len(listeners))

	for _, ln := range listeners {
		go func(l *Listener) {
			r.recvLoop(ctx, l)
			done <- struct{}{}
		}(ln)
	}

	for range len(listeners) {
		<-done
	}

	return nil
}

// recvLoop reads datagrams from a single Listener until ctx is
// cancelled. Errors from individual reads are logged but do not stop
// the loop; only context cancellation terminates it. Per §5 the
// pipeline call for one datagram runs to completion before the next
// read — there is no per-packet cancellation.
func (r *Receiver) recvLoop(ctx context.Context, ln *Listener) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := r.recvOne(ctx, ln); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("recv error", slog.String("error", err.Error()))
		}
	}
}

// recvOne performs a single receive-demux cycle, releasing the pooled
// read buffer once the pipeline has returned.
func (r *Receiver) recvOne(ctx context.Context, ln *Listener) error {
	raw, meta, err := ln.Recv(ctx)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	defer ReleaseBuffer(raw)

	srcAddr := &net.UDPAddr{IP: meta.SrcIP, Port: meta.SrcPort}
	if err := r.demuxer.IncomingSPA(ctx, raw, srcAddr, meta.DstIP, meta.DstPort); err != nil {
		r.logger.Debug("datagram dropped",
			slog.String("src", srcAddr.String()),
			slog.String("error", err.Error()),
		)
	}

	return nil
}
