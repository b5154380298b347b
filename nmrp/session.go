package nmrp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mdlayher/ethernet"
	"go.uber.org/zap"
)

// A State identifies where a Session is in the exchange with the
// device.
type State int

// Session states. Transitions are driven exclusively by handshake;
// there is no other place that moves a session forward.
const (
	StateDiscovering State = iota
	StateAwaitConfReq
	StateAwaitUploadReq
	StateAwaitClose
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateAwaitConfReq:
		return "awaiting configuration request"
	case StateAwaitUploadReq:
		return "awaiting upload request"
	case StateAwaitClose:
		return "awaiting close"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// An Uploader pushes the firmware image to the device once the device
// has asked for it. The session treats the transfer as opaque and
// synchronous; it resumes the protocol when Upload returns.
type Uploader interface {
	// Upload transfers the image to the device reachable at addr.
	Upload(addr net.IP) error
}

// Default timeouts. The long post-upload timeout covers the device
// writing the image to flash before it speaks again.
const (
	DefaultReceiveTimeout    = 10 * time.Second
	DefaultUploadDoneTimeout = 120 * time.Second

	defaultDiscoveryTimeout = 60 * time.Second

	// maxUploadRequests bounds how often the device may re-request
	// the upload before the session gives up on it.
	maxUploadRequests = 5
)

// A Session drives one discovery+configuration+upload attempt against
// a single device. Create a fresh Session per attempt; it is not
// reusable and not safe for concurrent use.
type Session struct {
	// Conn is the packet socket to run the exchange on. The session
	// does not close it.
	Conn *Conn

	// Log receives progress and diagnostics. If nil, logging is
	// suppressed.
	Log *zap.SugaredLogger

	// Uploader performs the file transfer when the device requests
	// it.
	Uploader Uploader

	// Progress, if non-nil, is invoked once per discovery attempt.
	// It is presentation only; a typical implementation advances a
	// spinner.
	Progress func(attempt int)

	// Addr and Mask are the IPv4 configuration handed to the device.
	Addr net.IP
	Mask net.IP

	// Dest is the address advertisements are sent to. Defaults to
	// the Ethernet broadcast address; once the device sends its
	// configuration request, its address is used instead.
	Dest net.HardwareAddr

	// ReceiveTimeout bounds each receive during discovery and the
	// handshake. UploadDoneTimeout is armed for the first receive
	// after a successful upload.
	ReceiveTimeout    time.Duration
	UploadDoneTimeout time.Duration

	// discoveryTimeout is fixed by the protocol; tests shorten it.
	discoveryTimeout time.Duration

	state      State
	peer       net.HardwareAddr
	expect     Code
	uploadReqs int
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// Run performs the whole exchange: discovery, configuration, upload
// and close. ctx is only consulted between protocol steps; a
// cancellation takes effect at the next loop iteration.
func (s *Session) Run(ctx context.Context) error {
	if s.Log == nil {
		s.Log = zap.NewNop().Sugar()
	}
	if s.ReceiveTimeout <= 0 {
		s.ReceiveTimeout = DefaultReceiveTimeout
	}
	if s.UploadDoneTimeout <= 0 {
		s.UploadDoneTimeout = DefaultUploadDoneTimeout
	}
	if s.discoveryTimeout <= 0 {
		s.discoveryTimeout = defaultDiscoveryTimeout
	}
	if s.Dest == nil {
		s.Dest = ethernet.Broadcast
	}
	defer func() { s.state = StateClosed }()

	first, err := s.discover(ctx)
	if err != nil {
		return err
	}
	return s.handshake(ctx, first)
}

// discover advertises until a device answers with a frame addressed
// back to us, or the discovery deadline passes. Timeouts, non-NMRP
// frames and malformed replies all mean "no usable reply yet"; only
// hard I/O errors abort early.
func (s *Session) discover(ctx context.Context) (*Frame, error) {
	s.state = StateDiscovering
	s.Conn.SetReadTimeout(s.ReceiveTimeout)

	adv := NewAdvertise()
	deadline := time.Now().Add(s.discoveryTimeout)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.Progress != nil {
			s.Progress(attempt)
		}

		adv.UpdateLength()
		if err := s.Conn.Send(adv, s.Dest); err != nil {
			return nil, err
		}

		f, err := s.Conn.Recv()
		switch {
		case err == nil && bytes.Equal(f.Dst, s.Conn.HardwareAddr()):
			s.Log.Infof("received reply from %s", f.Src)
			return f, nil
		case err == nil:
			// Addressed to somebody else; keep advertising.
		case os.IsTimeout(err), err == errNotNMRP, IsMalformed(err):
			// No usable reply yet.
		default:
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, ErrDiscoveryTimeout
		}
	}
}

// handshake runs the request/reply loop after discovery, starting
// from the first frame the device sent. One incoming message is
// handled per iteration: build the reply dictated by the transition
// table, send it, then block for the next message.
func (s *Session) handshake(ctx context.Context, rx *Frame) error {
	s.state = StateAwaitConfReq
	s.expect = CodeConfReq

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.expect != CodeNone && rx.Msg.Code != s.expect {
			s.Log.Warnf("received %s while waiting for %s", rx.Msg.Code, s.expect)
		}

		var (
			tx    *Message
			fatal error
		)

		switch rx.Msg.Code {
		case CodeAdvertise:
			// Some other NMRP server beat us to the device.
			s.Log.Infof("received NMRP advertisement from %s", rx.Src)
			return &ContentionError{Peer: rx.Src}

		case CodeConfReq:
			s.Log.Infof("configuration request received from %s", rx.Src)
			s.peer = rx.Src
			s.Dest = rx.Src
			tx = NewConfAck(s.Addr, s.Mask)
			s.state = StateAwaitUploadReq
			s.expect = CodeTFTPUploadReq
			s.Log.Infof("sending configuration: ip %s, mask %s", s.Addr, s.Mask)

		case CodeTFTPUploadReq:
			s.uploadReqs++
			if s.uploadReqs > maxUploadRequests {
				s.Log.Errorf("device re-requested file upload %d times; aborting", s.uploadReqs)
				tx = NewCloseReq()
				fatal = ErrUploadRetries
				break
			}
			s.Log.Infof("device %s requested the firmware upload", rx.Src)
			if err := s.Uploader.Upload(s.Addr); err != nil {
				return &UploadError{Err: err}
			}
			s.Log.Info("upload finished, waiting for the device to respond")
			s.Conn.SetReadTimeout(s.UploadDoneTimeout)
			s.state = StateAwaitClose
			s.expect = CodeCloseReq

		case CodeKeepAliveReq:
			tx = NewKeepAliveAck()

		case CodeCloseReq:
			tx = NewCloseAck()

		case CodeCloseAck:
			return nil

		default:
			s.Log.Warnf("unknown message code %#02x\n%s", uint8(rx.Msg.Code), rx.Msg.DebugString())
		}

		if tx != nil {
			tx.UpdateLength()
			if err := s.Conn.Send(tx, s.Dest); err != nil {
				return err
			}
		}
		if fatal != nil {
			return fatal
		}
		if rx.Msg.Code == CodeCloseReq {
			s.Log.Info("remote finished, closing connection")
			return nil
		}

		f, err := s.Conn.Recv()
		if err != nil {
			if os.IsTimeout(err) {
				return fmt.Errorf("timeout while waiting for %s: %w", s.expect, err)
			}
			return err
		}
		rx = f

		// The long post-upload timeout only covers the first message
		// after the transfer; everything later runs under the
		// regular timeout again.
		s.Conn.SetReadTimeout(s.ReceiveTimeout)
	}
}
