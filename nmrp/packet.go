// Package nmrp implements the NETGEAR Magic Recovery Protocol, a raw
// Ethernet bootstrap protocol spoken by routers in firmware recovery
// mode. The package provides the wire codec, a packet socket bound to
// one interface, and the client session that drives a device from
// discovery through configuration to a firmware upload.
package nmrp

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

const (
	// headerLen is the size of the fixed message header on the wire.
	headerLen = 6
	// optionHeaderLen is the size of an option's type+length header,
	// included in the option's declared length.
	optionHeaderLen = 4
)

// A Code identifies an NMRP operation.
type Code uint8

// Message codes used by the protocol.
const (
	CodeNone          Code = 0
	CodeAdvertise     Code = 1
	CodeConfReq       Code = 2
	CodeConfAck       Code = 3
	CodeCloseReq      Code = 4
	CodeCloseAck      Code = 5
	CodeKeepAliveReq  Code = 6
	CodeKeepAliveAck  Code = 7
	CodeTFTPUploadReq Code = 16
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "NONE"
	case CodeAdvertise:
		return "ADVERTISE"
	case CodeConfReq:
		return "CONF_REQ"
	case CodeConfAck:
		return "CONF_ACK"
	case CodeCloseReq:
		return "CLOSE_REQ"
	case CodeCloseAck:
		return "CLOSE_ACK"
	case CodeKeepAliveReq:
		return "KEEP_ALIVE_REQ"
	case CodeKeepAliveAck:
		return "KEEP_ALIVE_ACK"
	case CodeTFTPUploadReq:
		return "TFTP_UL_REQ"
	default:
		return fmt.Sprintf("UNKNOWN(%#02x)", uint8(c))
	}
}

// An OptionType identifies the payload carried by an Option.
type OptionType uint16

// Option types used by the protocol.
const (
	OptMagic          OptionType = 0x0001
	OptDeviceIP       OptionType = 0x0002
	OptDeviceRegion   OptionType = 0x0004
	OptFirmwareUpload OptionType = 0x0101
	OptStateUpload    OptionType = 0x0102
	OptFileName       OptionType = 0x0181
)

// An Option is one type-length-value record trailing the message
// header. Its wire length is optionHeaderLen+len(Value).
type Option struct {
	Type  OptionType
	Value []byte
}

func (o Option) wireLen() int {
	return optionHeaderLen + len(o.Value)
}

// A Message is one NMRP protocol unit.
//
// Length is derived from the option set and is not recomputed by
// Marshal; callers mutate Options and then call UpdateLength, so the
// exact bytes about to be sent are always inspectable beforehand.
type Message struct {
	Reserved uint16
	Code     Code
	ID       uint8
	Length   uint16
	Options  []Option
}

// UpdateLength recomputes the derived Length field from the current
// option set. It must be called after any change to Options and
// before Marshal.
func (m *Message) UpdateLength() {
	l := headerLen
	for _, o := range m.Options {
		l += o.wireLen()
	}
	m.Length = uint16(l)
}

// Marshal returns the wire encoding of m, all multi-byte fields in
// network byte order.
func (m *Message) Marshal() ([]byte, error) {
	b := make([]byte, headerLen)
	binary.BigEndian.PutUint16(b[0:2], m.Reserved)
	b[2] = byte(m.Code)
	b[3] = m.ID
	binary.BigEndian.PutUint16(b[4:6], m.Length)

	for _, o := range m.Options {
		if o.wireLen() > 0xffff {
			return nil, fmt.Errorf("option %#04x has %d bytes of payload, too large for the wire", uint16(o.Type), len(o.Value))
		}
		var hdr [optionHeaderLen]byte
		binary.BigEndian.PutUint16(hdr[0:2], uint16(o.Type))
		binary.BigEndian.PutUint16(hdr[2:4], uint16(o.wireLen()))
		b = append(b, hdr[:]...)
		b = append(b, o.Value...)
	}

	return b, nil
}

// UnmarshalHeader decodes only the fixed 6-byte header of a message,
// so a caller holding a partial buffer can learn the total declared
// length before reading the rest.
func UnmarshalHeader(b []byte) (Message, error) {
	if len(b) < headerLen {
		return Message{}, fmt.Errorf("message too short (%d bytes)", len(b))
	}
	return Message{
		Reserved: binary.BigEndian.Uint16(b[0:2]),
		Code:     Code(b[2]),
		ID:       b[3],
		Length:   binary.BigEndian.Uint16(b[4:6]),
	}, nil
}

// Unmarshal decodes a complete message. The declared length must fit
// within b; bytes past the declared length (link-layer padding) are
// ignored. Header/option inconsistencies are reported as
// *MalformedError.
func Unmarshal(b []byte) (*Message, error) {
	m, err := UnmarshalHeader(b)
	if err != nil {
		return nil, err
	}
	if int(m.Length) < headerLen {
		return nil, &MalformedError{Reason: fmt.Sprintf("declared length %d below the %d byte header", m.Length, headerLen)}
	}
	if int(m.Length) > len(b) {
		return nil, &MalformedError{Reason: fmt.Sprintf("declared length %d exceeds the %d bytes received", m.Length, len(b))}
	}
	opts, err := unmarshalOptions(b[headerLen:m.Length])
	if err != nil {
		return nil, err
	}
	m.Options = opts
	return &m, nil
}

// unmarshalOptions walks exactly the declared option area. The final
// option must land on the area boundary; anything else is malformed.
func unmarshalOptions(b []byte) ([]Option, error) {
	var opts []Option
	for len(b) > 0 {
		if len(b) < optionHeaderLen {
			return nil, &MalformedError{Reason: fmt.Sprintf("%d trailing bytes, too few for an option header", len(b))}
		}
		typ := OptionType(binary.BigEndian.Uint16(b[0:2]))
		l := int(binary.BigEndian.Uint16(b[2:4]))
		if l < optionHeaderLen {
			return nil, &MalformedError{Reason: fmt.Sprintf("option %#04x declares length %d, minimum is %d", uint16(typ), l, optionHeaderLen)}
		}
		if l > len(b) {
			return nil, &MalformedError{Reason: fmt.Sprintf("option %#04x declares length %d, only %d bytes remain", uint16(typ), l, len(b))}
		}
		v := make([]byte, l-optionHeaderLen)
		copy(v, b[optionHeaderLen:l])
		opts = append(opts, Option{Type: typ, Value: v})
		b = b[l:]
	}
	return opts, nil
}

// DebugString prints a human-readable representation of the message,
// for logging unexpected or malformed traffic.
func (m *Message) DebugString() string {
	var s strings.Builder
	fmt.Fprintf(&s, "res=%#04x code=%s id=%#02x len=%d", m.Reserved, m.Code, m.ID, m.Length)
	if len(m.Options) == 0 {
		s.WriteString(" (no opts)\n")
		return s.String()
	}
	s.WriteByte('\n')
	for _, o := range m.Options {
		fmt.Fprintf(&s, "  opt type=%#04x len=%d val=% x\n", uint16(o.Type), o.wireLen(), o.Value)
	}
	return s.String()
}

// magicCookie is the vendor magic carried in every advertisement.
var magicCookie = []byte{'N', 'T', 'G', 'R'}

// NewAdvertise returns the advertisement broadcast during discovery.
func NewAdvertise() *Message {
	m := &Message{
		Code: CodeAdvertise,
		Options: []Option{
			{Type: OptMagic, Value: magicCookie},
		},
	}
	m.UpdateLength()
	return m
}

// NewConfAck returns the reply to a configuration request, handing
// addr/mask to the device and asking it to request a firmware upload.
func NewConfAck(addr, mask net.IP) *Message {
	v := make([]byte, 8)
	copy(v[0:4], addr.To4())
	copy(v[4:8], mask.To4())
	m := &Message{
		Code: CodeConfAck,
		Options: []Option{
			{Type: OptDeviceIP, Value: v},
			{Type: OptFirmwareUpload},
		},
	}
	m.UpdateLength()
	return m
}

// NewKeepAliveAck returns the reply to a keep-alive request.
func NewKeepAliveAck() *Message {
	m := &Message{Code: CodeKeepAliveAck}
	m.UpdateLength()
	return m
}

// NewCloseReq returns a request to end the session.
func NewCloseReq() *Message {
	m := &Message{Code: CodeCloseReq}
	m.UpdateLength()
	return m
}

// NewCloseAck returns the acknowledgement of a peer's close request.
func NewCloseAck() *Message {
	m := &Message{Code: CodeCloseAck}
	m.UpdateLength()
	return m
}
