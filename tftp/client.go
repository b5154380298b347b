// Package tftp uploads firmware images to a device that has accepted
// an NMRP configuration. The device runs a minimal TFTP server while
// in recovery mode; this package is the client side of that transfer.
package tftp

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	pin "github.com/pin/tftp"
)

const defaultPort = 69

// A Client sends a local firmware image to the device's TFTP server
// in octet mode. It satisfies nmrp.Uploader.
type Client struct {
	// Path of the local firmware image.
	Path string

	// Timeout for a single TFTP exchange. Zero keeps the library
	// default.
	Timeout time.Duration

	// Port of the device's TFTP server. Zero means 69.
	Port int
}

// Upload streams the image to addr.
func (c *Client) Upload(addr net.IP) error {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	client, err := pin.NewClient(net.JoinHostPort(addr.String(), strconv.Itoa(port)))
	if err != nil {
		return err
	}
	if c.Timeout > 0 {
		client.SetTimeout(c.Timeout)
	}

	rf, err := client.Send(filepath.Base(c.Path), "octet")
	if err != nil {
		return fmt.Errorf("starting transfer to %s: %w", addr, err)
	}
	if ot, ok := rf.(pin.OutgoingTransfer); ok {
		ot.SetSize(st.Size())
	}
	if _, err := rf.ReadFrom(f); err != nil {
		return fmt.Errorf("sending %s to %s: %w", c.Path, addr, err)
	}
	return nil
}
