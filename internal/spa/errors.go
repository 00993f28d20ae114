package spa

import "errors"

// Sentinel errors, one per §7 error kind. Handlers compare with
// errors.Is; the pipeline coordinator never exposes more detail than
// these to its caller, and never lets any of them panic across a
// package boundary.
var (
	// ErrBadData marks a structural rejection: bad length, a poisoned
	// prefix, or an invalid HTTP wrap. Always drop, never count as
	// "might be noise".
	ErrBadData = errors.New("spa: bad data")

	// ErrNotSPAData marks a plausibly-not-SPA rejection: base64
	// decode failure, identifier decode failure, or a zero identifier.
	ErrNotSPAData = errors.New("spa: not spa data")

	// ErrCryptoContext marks failure to construct a crypto context
	// (bad stanza configuration, unusable key material).
	ErrCryptoContext = errors.New("spa: crypto context error")

	// ErrDigest marks a digest compute or replay-store failure that
	// is not itself a replay.
	ErrDigest = errors.New("spa: digest error")

	// ErrDecryptFailed covers HMAC mismatch, bad padding, and any
	// other decrypt-path failure. It is never subdivided further:
	// a caller cannot distinguish "wrong key" from "corrupt packet".
	ErrDecryptFailed = errors.New("spa: decrypt failed")

	// ErrReplay marks a digest already present in the replay store.
	ErrReplay = errors.New("spa: replay")

	// ErrAccessDenied marks any §4.6 predicate failure.
	ErrAccessDenied = errors.New("spa: access denied")

	// ErrCommandFailed marks a command that executed but returned
	// non-zero, or did not exit cleanly.
	ErrCommandFailed = errors.New("spa: command failed")
)
