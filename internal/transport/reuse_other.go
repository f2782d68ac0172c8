//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package transport

import "syscall"

// reuseAddr is a no-op here; one adapter per host.
func reuseAddr(_, _ string, _ syscall.RawConn) error { return nil }
