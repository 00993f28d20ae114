// Package spa implements the Single Packet Authorization intake pipeline:
// classification, replay suppression, policy resolution, decryption,
// message parsing, access evaluation, and action dispatch for a single
// inbound datagram.
//
// The pipeline is silent by default: a rejected datagram produces a log
// line and nothing else. Every exported entry point is safe to call from
// a single receive loop; the package does not spawn goroutines of its
// own.
package spa
