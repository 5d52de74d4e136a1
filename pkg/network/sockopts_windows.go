//go:build windows

package network

import "syscall"

// applyReuseAddr is a no-op on windows, where SO_REUSEADDR has
// different (and generally unwanted) semantics for client sockets.
func applyReuseAddr(c syscall.RawConn) error {
	return nil
}
