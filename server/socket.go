//go:build linux || darwin || freebsd || netbsd || openbsd

package server

import (
	"net"
	"slices"

	"github.com/webriots/corun"
	"golang.org/x/sys/unix"
)

// listen creates a non-blocking listening TCP socket for addr.
func listen(addr string, o *ServerOptions) (fd int, local net.Addr, err error) {
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, &corun.IOError{Op: "resolve", Err: err}
	}

	family, sa := sockaddr(tcp)
	fd, err = unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, &corun.IOError{Op: "socket", Err: err}
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	unix.CloseOnExec(fd)
	if err = unix.SetNonblock(fd, true); err != nil {
		return fd, nil, &corun.IOError{Op: "setnonblock", Err: err}
	}
	if err = setsockopts(fd, family, o); err != nil {
		return fd, nil, &corun.IOError{Op: "setsockopt", Err: err}
	}
	if err = unix.Bind(fd, sa); err != nil {
		return fd, nil, &corun.IOError{Op: "bind", Err: err}
	}
	if err = unix.Listen(fd, o.backlog()); err != nil {
		return fd, nil, &corun.IOError{Op: "listen", Err: err}
	}

	lsa, err := unix.Getsockname(fd)
	if err != nil {
		return fd, nil, &corun.IOError{Op: "getsockname", Err: err}
	}
	return fd, tcpAddr(lsa), nil
}

func setsockopts(fd, family int, o *ServerOptions) error {
	opts := []struct {
		on    bool
		level int
		opt   int
	}{
		{o.ReuseAddr, unix.SOL_SOCKET, unix.SO_REUSEADDR},
		{o.ReusePort, unix.SOL_SOCKET, unix.SO_REUSEPORT},
		{o.Broadcast, unix.SOL_SOCKET, unix.SO_BROADCAST},
	}
	for _, so := range opts {
		if !so.on {
			continue
		}
		if err := unix.SetsockoptInt(fd, so.level, so.opt, 1); err != nil {
			return err
		}
	}

	if family == unix.AF_INET6 {
		v6only := 0
		if o.IPv6Only {
			v6only = 1
		}
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only)
	}
	return nil
}

// accept takes one pending connection off fd without blocking.
func accept(fd int) (int, net.Addr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, nil, err
	}
	return nfd, tcpAddr(sa), nil
}

func sockaddr(a *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := a.IP.To4(); ip4 != nil || a.IP == nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return unix.AF_INET6, sa
}

func tcpAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(slices.Clone(sa.Addr[:])), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(slices.Clone(sa.Addr[:])), Port: sa.Port}
	}
	return nil
}
