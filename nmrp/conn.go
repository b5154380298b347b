package nmrp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdlayher/ethernet"

	"github.com/metal-stack/nmrpflash/pcap"
)

// EtherType is the Ethernet protocol number carrying NMRP traffic.
const EtherType = 0x0912

// minFrameLen is an Ethernet header plus the fixed message header;
// anything shorter cannot be classified and is an I/O error.
const minFrameLen = 14 + headerLen

// errNotNMRP marks a received frame of some other protocol. It is a
// "nothing for us yet" signal, not a failure.
var errNotNMRP = errors.New("not an NMRP frame")

// defined as a var so tests can substitute a scripted socket.
var platformConn func(intf *net.Interface) (conn, error)

type conn interface {
	io.Closer
	Recv(b []byte) (int, error)
	Send(b []byte, dst net.HardwareAddr) error
	SetReadDeadline(t time.Time) error
}

// A Frame is one NMRP message together with its link-layer
// addressing.
type Frame struct {
	Src net.HardwareAddr
	Dst net.HardwareAddr
	Msg *Message
}

// A Conn is an NMRP-oriented packet socket bound to a single named
// interface. It sends and receives whole Ethernet frames and filters
// out non-NMRP traffic.
//
// A Conn is owned by one Session at a time; it is not safe for
// concurrent use.
type Conn struct {
	// Capture, if non-nil, receives a copy of every frame sent or
	// received, for offline inspection of a failed flash attempt.
	Capture *pcap.Writer

	conn        conn
	intf        *net.Interface
	readTimeout time.Duration
}

// NewConn resolves the named interface and binds a raw packet socket
// to it, filtered to the NMRP protocol number.
func NewConn(ifname string) (*Conn, error) {
	intf, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", ifname, err)
	}
	if platformConn == nil {
		return nil, errors.New("raw NMRP sockets are not supported on this platform")
	}
	c, err := platformConn(intf)
	if err != nil {
		return nil, fmt.Errorf("binding to %q: %w", ifname, err)
	}
	return &Conn{conn: c, intf: intf}, nil
}

// Close releases the packet socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// HardwareAddr returns the MAC address of the bound interface.
func (c *Conn) HardwareAddr() net.HardwareAddr {
	return c.intf.HardwareAddr
}

// Interface returns the bound interface.
func (c *Conn) Interface() *net.Interface {
	return c.intf
}

// SetReadTimeout bounds each subsequent Recv call. Expiry surfaces as
// an error satisfying os.IsTimeout, distinct from other I/O failures.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.readTimeout = d
}

// Send transmits msg to dst in a single frame. The caller must have
// set the message's derived length via UpdateLength.
func (c *Conn) Send(msg *Message, dst net.HardwareAddr) error {
	payload, err := msg.Marshal()
	if err != nil {
		return err
	}
	f := &ethernet.Frame{
		Destination: dst,
		Source:      c.intf.HardwareAddr,
		EtherType:   ethernet.EtherType(EtherType),
		Payload:     payload,
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	c.capture(b)
	return c.conn.Send(b, dst)
}

// Recv blocks for the next NMRP frame, up to the configured read
// timeout. Frames of other protocols yield errNotNMRP; frames too
// short to classify, or shorter than their declared message length,
// are I/O errors; option-area inconsistencies are *MalformedError.
func (c *Conn) Recv() (*Frame, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, err
		}
	}

	var buf [1500]byte
	n, err := c.conn.Recv(buf[:])
	if err != nil {
		return nil, err
	}
	c.capture(buf[:n])

	if n < minFrameLen {
		return nil, fmt.Errorf("short frame (%d bytes)", n)
	}
	var eth ethernet.Frame
	if err := eth.UnmarshalBinary(buf[:n]); err != nil {
		return nil, err
	}
	if eth.EtherType != EtherType {
		return nil, errNotNMRP
	}

	// The header declares the total message length; the rest of the
	// frame may be link-layer padding.
	hdr, err := UnmarshalHeader(eth.Payload)
	if err != nil {
		return nil, err
	}
	if int(hdr.Length) < headerLen {
		return nil, &MalformedError{Reason: fmt.Sprintf("declared length %d below the %d byte header", hdr.Length, headerLen)}
	}
	if int(hdr.Length) > len(eth.Payload) {
		return nil, fmt.Errorf("unexpected message length (%d bytes declared, %d received)", hdr.Length, len(eth.Payload))
	}
	msg, err := Unmarshal(eth.Payload[:hdr.Length])
	if err != nil {
		return nil, err
	}

	return &Frame{Src: eth.Source, Dst: eth.Destination, Msg: msg}, nil
}

// capture is best effort; a broken trace file must not abort the
// exchange it is recording.
func (c *Conn) capture(b []byte) {
	if c.Capture == nil {
		return
	}
	raw := make([]byte, len(b))
	copy(raw, b)
	_ = c.Capture.Put(&pcap.Packet{
		Timestamp: time.Now(),
		Length:    len(raw),
		Bytes:     raw,
	})
}
