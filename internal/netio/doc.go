// Package netio implements the UDP collector that feeds raw SPA
// datagrams into the intake pipeline (internal/spa). It is the
// out-of-scope "UDP receive loop" collaborator named in spec §1: a
// non-blocking socket plus destination-address capture, nothing more.
package netio
