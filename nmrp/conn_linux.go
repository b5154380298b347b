//go:build linux

package nmrp

import (
	"net"
	"time"

	"github.com/mdlayher/packet"
	"golang.org/x/net/bpf"
)

func init() {
	platformConn = newLinuxConn
}

type linuxConn struct {
	c *packet.Conn
}

func newLinuxConn(intf *net.Interface) (conn, error) {
	c, err := packet.Listen(intf, packet.Raw, EtherType, nil)
	if err != nil {
		return nil, err
	}

	// The socket protocol already selects NMRP frames; the filter
	// keeps frames queued between Listen and SetBPF from leaking
	// through.
	filter, err := bpf.Assemble([]bpf.Instruction{
		// Load the ethertype
		bpf.LoadAbsolute{Off: 12, Size: 2},
		// NMRP?
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: EtherType, SkipFalse: 1},
		// Accept
		bpf.RetConstant{Val: 1500},
		// Ignore
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := c.SetBPF(filter); err != nil {
		c.Close()
		return nil, err
	}

	return &linuxConn{c: c}, nil
}

func (l *linuxConn) Close() error {
	return l.c.Close()
}

func (l *linuxConn) Recv(b []byte) (int, error) {
	n, _, err := l.c.ReadFrom(b)
	return n, err
}

func (l *linuxConn) Send(b []byte, dst net.HardwareAddr) error {
	_, err := l.c.WriteTo(b, &packet.Addr{HardwareAddr: dst})
	return err
}

func (l *linuxConn) SetReadDeadline(t time.Time) error {
	return l.c.SetReadDeadline(t)
}
