//go:build linux

package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// FDTransport wraps a descriptor inherited from another process.
// Release never closes the descriptor.
type FDTransport struct {
	mu       sync.Mutex
	fd       int
	cfg      Config
	acquired bool
}

// NewFDTransport creates a transport over an already connected descriptor.
func NewFDTransport(fd int, cfg Config) (MediaTransport, error) {
	if fd < 0 {
		return nil, fmt.Errorf("%w: descriptor %d", ErrInvalidAddress, fd)
	}
	return &FDTransport{fd: fd, cfg: cfg}, nil
}

// Acquire validates the descriptor.
func (t *FDTransport) Acquire(optional bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := unix.FcntlInt(uintptr(t.fd), unix.F_GETFD, 0); err != nil {
		return fmt.Errorf("descriptor %d: %w", t.fd, err)
	}
	t.acquired = true

	logrus.WithFields(logrus.Fields{
		"function": "FDTransport.Acquire",
		"fd":       t.fd,
		"optional": optional,
	}).Debug("Transport acquired")
	return nil
}

// Release marks the transport released.
func (t *FDTransport) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acquired = false
	return nil
}

// FD returns the descriptor while acquired.
func (t *FDTransport) FD() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.acquired {
		return -1
	}
	return t.fd
}

func (t *FDTransport) ReadMTU() int          { return t.cfg.ReadMTU }
func (t *FDTransport) WriteMTU() int         { return t.cfg.WriteMTU }
func (t *FDTransport) Configuration() []byte { return t.cfg.Configuration }

// dialFunc opens and connects a socket, returning its descriptor.
type dialFunc func() (int, error)

// DialTransport connects a fresh socket on every Acquire and closes it on Release.
type DialTransport struct {
	mu   sync.Mutex
	name string
	dial dialFunc
	cfg  Config
	fd   int
}

func newDialTransport(name string, dial dialFunc, cfg Config) *DialTransport {
	return &DialTransport{name: name, dial: dial, cfg: cfg, fd: -1}
}

// Acquire connects the socket if it is not connected yet.
func (t *DialTransport) Acquire(optional bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fd >= 0 {
		return nil
	}
	fd, err := t.dial()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DialTransport.Acquire",
			"address":  t.name,
			"optional": optional,
			"error":    err.Error(),
		}).Error("Failed to connect media socket")
		return fmt.Errorf("connect %s: %w", t.name, err)
	}
	t.fd = fd

	logrus.WithFields(logrus.Fields{
		"function":  "DialTransport.Acquire",
		"address":   t.name,
		"fd":        fd,
		"read_mtu":  t.cfg.ReadMTU,
		"write_mtu": t.cfg.WriteMTU,
	}).Info("Media socket connected")
	return nil
}

// Release closes the socket.
func (t *DialTransport) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fd < 0 {
		return nil
	}
	err := unix.Close(t.fd)
	t.fd = -1

	logrus.WithFields(logrus.Fields{
		"function": "DialTransport.Release",
		"address":  t.name,
	}).Info("Media socket closed")
	return err
}

// FD returns the connected descriptor or -1.
func (t *DialTransport) FD() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fd
}

func (t *DialTransport) ReadMTU() int          { return t.cfg.ReadMTU }
func (t *DialTransport) WriteMTU() int         { return t.cfg.WriteMTU }
func (t *DialTransport) Configuration() []byte { return t.cfg.Configuration }

// NewUDPTransport sends media datagrams to a UDP address, mainly for capture and testing.
func NewUDPTransport(address string, cfg Config) (MediaTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	dial := func() (int, error) {
		var sa unix.Sockaddr
		family := unix.AF_INET
		if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
			sa4 := &unix.SockaddrInet4{Port: addr.Port}
			if ip4 != nil {
				copy(sa4.Addr[:], ip4)
			}
			sa = sa4
		} else {
			family = unix.AF_INET6
			sa6 := &unix.SockaddrInet6{Port: addr.Port}
			copy(sa6.Addr[:], addr.IP.To16())
			sa = sa6
		}
		return connectSocket(family, unix.SOCK_DGRAM, 0, sa)
	}
	return newDialTransport(addr.String(), dial, cfg), nil
}

// NewL2CAPTransport connects a Bluetooth L2CAP sequential-packet socket.
// address is a BD_ADDR in the usual colon-separated form.
func NewL2CAPTransport(address string, psm uint16, cfg Config) (MediaTransport, error) {
	bdaddr, err := ParseBDAddr(address)
	if err != nil {
		return nil, err
	}

	dial := func() (int, error) {
		sa := &unix.SockaddrL2{PSM: psm, Addr: bdaddr}
		return connectSocket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP, sa)
	}
	return newDialTransport(fmt.Sprintf("%s/%d", address, psm), dial, cfg), nil
}

func connectSocket(family, sotype, proto int, sa unix.Sockaddr) (int, error) {
	fd, err := unix.Socket(family, sotype|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connect: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set non-blocking: %w", err)
	}
	return fd, nil
}
