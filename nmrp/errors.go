package nmrp

import (
	"errors"
	"fmt"
	"net"
)

// A MalformedError reports a message whose header and option area
// disagree: a declared length that does not cover the options
// actually present, an option shorter than its own header, or an
// option running past the declared boundary.
//
// During discovery a malformed reply is treated as "no usable reply
// yet"; once the handshake has started it is fatal.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed message: " + e.Reason
}

// IsMalformed reports whether err is a message parse failure.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

var (
	// ErrDiscoveryTimeout is returned when no device answers the
	// advertisements within the discovery deadline.
	ErrDiscoveryTimeout = errors.New("no response after 60 seconds")

	// ErrUploadRetries is returned when the device keeps re-requesting
	// the firmware upload after it has already been performed. A
	// CLOSE_REQ has been sent to the device by the time a caller sees
	// this.
	ErrUploadRetries = errors.New("device re-requested the firmware upload too many times")
)

// A ContentionError is returned when a second NMRP server advertises
// on the segment while this client is waiting for the device's
// configuration request.
type ContentionError struct {
	Peer net.HardwareAddr
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("another NMRP server (%s) is advertising on this network", e.Peer)
}

// An UploadError wraps a failure reported by the Uploader.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return "firmware upload failed: " + e.Err.Error()
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
