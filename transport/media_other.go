//go:build !linux

package transport

// NewSocket is not available on this platform.
func NewSocket(fd int) (Socket, error) {
	return nil, ErrUnsupportedPlatform
}

// NewPoller is not available on this platform.
func NewPoller(fd int) (WritableNotifier, error) {
	return nil, ErrUnsupportedPlatform
}

// NewFDTransport is not available on this platform.
func NewFDTransport(fd int, cfg Config) (MediaTransport, error) {
	return nil, ErrUnsupportedPlatform
}

// NewUDPTransport is not available on this platform.
func NewUDPTransport(address string, cfg Config) (MediaTransport, error) {
	return nil, ErrUnsupportedPlatform
}

// NewL2CAPTransport is not available on this platform.
func NewL2CAPTransport(address string, psm uint16, cfg Config) (MediaTransport, error) {
	return nil, ErrUnsupportedPlatform
}
