// Package pcap reads and writes libpcap capture files. nmrpflash uses
// it to record the raw frames of a recovery session, so a failed
// flash attempt can be inspected in wireshark after the fact.
package pcap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// LinkType describes the contents of each packet in a capture.
type LinkType uint32

// LinkEthernet marks captures of whole Ethernet frames, the only link
// type nmrpflash produces.
const LinkEthernet LinkType = 1

// A Packet is one raw frame and its metadata. Length is the original
// frame length on the wire, which may exceed len(Bytes) if the
// capture was truncated.
type Packet struct {
	Timestamp time.Time
	Length    int
	Bytes     []byte
}

type fileHeader struct {
	Magic   uint32
	Major   uint16
	Minor   uint16
	Ignored uint64
	SnapLen uint32
	Type    uint32
}

type packetHeader struct {
	Sec     uint32
	SubSec  uint32
	Len     uint32
	OrigLen uint32
}

const (
	// Timestamps in (sec, usec) resp. (sec, nsec).
	magicMicros = 0xa1b2c3d4
	magicNanos  = 0xa1b23c4d
)

// A Writer serializes packets to w as a little-endian, nanosecond
// resolution pcap file. The file header is written lazily on the
// first Put.
type Writer struct {
	Writer   io.Writer
	LinkType LinkType
	SnapLen  uint32

	headerWritten bool
}

// Put appends pkt to the capture.
func (w *Writer) Put(pkt *Packet) error {
	if !w.headerWritten {
		hdr := fileHeader{
			Magic:   magicNanos,
			Major:   2,
			Minor:   4,
			SnapLen: w.SnapLen,
			Type:    uint32(w.LinkType),
		}
		if err := binary.Write(w.Writer, binary.LittleEndian, hdr); err != nil {
			return err
		}
		w.headerWritten = true
	}

	hdr := packetHeader{
		Sec:     uint32(pkt.Timestamp.Unix()),
		SubSec:  uint32(pkt.Timestamp.Nanosecond()),
		Len:     uint32(len(pkt.Bytes)),
		OrigLen: uint32(pkt.Length),
	}
	if err := binary.Write(w.Writer, binary.LittleEndian, hdr); err != nil {
		return err
	}
	_, err := w.Writer.Write(pkt.Bytes)
	return err
}

// A Reader extracts packets from a pcap file.
type Reader struct {
	LinkType LinkType

	r     io.Reader
	order binary.ByteOrder
	tmult int64
}

// NewReader reads the file header from r and returns a Reader
// positioned at the first packet. Both byte orders and both timestamp
// resolutions are accepted.
func NewReader(r io.Reader) (*Reader, error) {
	ret := &Reader{
		r:     bufio.NewReader(r),
		order: binary.LittleEndian,
	}

	var hdr fileHeader
	if err := binary.Read(ret.r, ret.order, &hdr); err != nil {
		return nil, fmt.Errorf("reading pcap header: %w", err)
	}
	// The magic is written in the producer's native order; a
	// byte-swapped magic means the whole file is the other way
	// around.
	switch hdr.Magic {
	case magicMicros:
		ret.tmult = 1000
	case magicNanos:
		ret.tmult = 1
	case swap32(magicMicros):
		ret.order = binary.BigEndian
		ret.tmult = 1000
	case swap32(magicNanos):
		ret.order = binary.BigEndian
		ret.tmult = 1
	default:
		return nil, errors.New("bad magic")
	}
	if ret.order == binary.BigEndian {
		hdr.Major = swap16(hdr.Major)
		hdr.Minor = swap16(hdr.Minor)
		hdr.Type = swap32(hdr.Type)
	}
	if hdr.Major != 2 || hdr.Minor != 4 {
		return nil, fmt.Errorf("unknown pcap version %d.%d", hdr.Major, hdr.Minor)
	}
	ret.LinkType = LinkType(hdr.Type)

	return ret, nil
}

// Next returns the next packet, or io.EOF at the end of the capture.
func (r *Reader) Next() (*Packet, error) {
	var hdr packetHeader
	if err := binary.Read(r.r, r.order, &hdr); err != nil {
		return nil, err
	}
	bs := make([]byte, hdr.Len)
	if _, err := io.ReadFull(r.r, bs); err != nil {
		return nil, err
	}
	return &Packet{
		Timestamp: time.Unix(int64(hdr.Sec), r.tmult*int64(hdr.SubSec)),
		Length:    int(hdr.OrigLen),
		Bytes:     bs,
	}, nil
}

func swap16(v uint16) uint16 {
	return v<<8 | v>>8
}

func swap32(v uint32) uint32 {
	return v<<24 | v>>24 | (v&0x00ff0000)>>8 | (v&0x0000ff00)<<8
}
