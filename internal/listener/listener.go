// Package listener creates the raw, non-blocking TCP listening socket
// spec.md §6 describes. Grounded on the teacher's
// cli/server.CreateListener (an address-string entry point returning
// something the caller immediately drives), adapted from net.Listener
// to a raw golang.org/x/sys/unix socket since the event loop needs
// direct fd-level accept/select control that net.Listener does not
// expose.
package listener

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Listen creates, binds, and listens on a non-blocking IPv4 TCP socket
// at host:port, returning its descriptor.
func Listen(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.Wrap(err, "listener: socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "listener: setsockopt SO_REUSEADDR")
	}

	addr, err := resolveIPv4(host)
	if err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "listener: resolve host %q", host)
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "listener: bind %s:%d", host, port)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "listener: listen")
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "listener: set non-blocking")
	}

	return fd, nil
}

func resolveIPv4(host string) (addr [4]byte, err error) {
	if host == "" {
		return addr, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return addr, errors.Errorf("cannot resolve host %q", host)
		}
		ip = ips[0]
	}
	v4 := ip.To4()
	if v4 == nil {
		return addr, errors.Errorf("host %q is not an IPv4 address", host)
	}
	copy(addr[:], v4)
	return addr, nil
}

// Addr renders the bound address as a human-readable "host:port"
// string, for the startup banner log line.
func Addr(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
