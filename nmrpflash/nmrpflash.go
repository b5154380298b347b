// Package nmrpflash wires the NMRP protocol engine to everything the
// operator provides: a validated configuration, an upload mechanism
// and a logger.
package nmrpflash

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/metal-stack/nmrpflash/nmrp"
	"github.com/metal-stack/nmrpflash/pcap"
	"github.com/metal-stack/nmrpflash/tftp"
)

// Config describes one flash attempt. All fields arrive as strings
// from flags or the environment; validation happens before any
// network activity.
type Config struct {
	// Interface is the name of the interface the device is attached
	// to.
	Interface string

	// MAC of the device. Empty means broadcast.
	MAC string

	// Addr and Mask are the IPv4 configuration assigned to the
	// device for the duration of the transfer.
	Addr string
	Mask string

	// File is the firmware image to upload.
	File string

	// Command, if set, is run instead of the built-in TFTP upload.
	Command string

	// Capture, if set, is a path the raw NMRP exchange is written to
	// as a pcap file.
	Capture string

	ReceiveTimeout    time.Duration
	UploadDoneTimeout time.Duration
}

type target struct {
	dest net.HardwareAddr
	addr net.IP
	mask net.IP
}

// validate performs all pre-network checks, so an operator typo never
// gets as far as opening a raw socket.
func (c *Config) validate() (*target, error) {
	if c.Interface == "" {
		return nil, fmt.Errorf("no network interface given")
	}

	t := &target{dest: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}}
	if c.MAC != "" {
		dest, err := nmrp.ParseMAC(c.MAC)
		if err != nil {
			return nil, err
		}
		t.dest = dest
	}

	t.addr = net.ParseIP(c.Addr)
	if t.addr == nil || t.addr.To4() == nil {
		return nil, fmt.Errorf("invalid IP address %q", c.Addr)
	}
	t.mask = net.ParseIP(c.Mask)
	if t.mask == nil || t.mask.To4() == nil {
		return nil, fmt.Errorf("invalid subnet mask %q", c.Mask)
	}

	if c.Command == "" {
		f, err := os.Open(c.File)
		if err != nil {
			return nil, fmt.Errorf("error accessing file %q: %w", c.File, err)
		}
		f.Close()
	}

	return t, nil
}

// Run performs one complete flash attempt: validate, open the packet
// socket, discover the device and drive the session to completion.
func Run(ctx context.Context, cfg *Config, log *zap.SugaredLogger) error {
	t, err := cfg.validate()
	if err != nil {
		return err
	}

	conn, err := nmrp.NewConn(cfg.Interface)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.Capture != "" {
		f, err := os.Create(cfg.Capture)
		if err != nil {
			return fmt.Errorf("creating capture file: %w", err)
		}
		defer f.Close()
		conn.Capture = &pcap.Writer{Writer: f, LinkType: pcap.LinkEthernet, SnapLen: 1500}
		log.Infof("writing session capture to %s", cfg.Capture)
	}

	var up nmrp.Uploader
	if cfg.Command != "" {
		log.Infof("will run %q for the upload", cfg.Command)
		up = &tftp.Command{Cmd: cfg.Command}
	} else {
		log.Infof("will upload %s", cfg.File)
		up = &tftp.Client{Path: cfg.File, Timeout: cfg.ReceiveTimeout}
	}

	sess := &nmrp.Session{
		Conn:              conn,
		Log:               log,
		Uploader:          up,
		Addr:              t.addr,
		Mask:              t.mask,
		Dest:              t.dest,
		ReceiveTimeout:    cfg.ReceiveTimeout,
		UploadDoneTimeout: cfg.UploadDoneTimeout,
	}

	// The spinner is presentation only and stays out of the engine.
	spinner := `\|/-`
	advertised := false
	sess.Progress = func(attempt int) {
		advertised = true
		fmt.Printf("\rAdvertising NMRP server on %s ... %c", cfg.Interface, spinner[attempt%len(spinner)])
	}

	err = sess.Run(ctx)
	if advertised {
		fmt.Println()
	}
	return err
}
