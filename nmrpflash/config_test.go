package nmrpflash

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	fw := filepath.Join(t.TempDir(), "firmware.img")
	require.NoError(t, os.WriteFile(fw, []byte("image"), 0644))
	return &Config{
		Interface: "eth0",
		MAC:       "a4:2b:8c:00:01:02",
		Addr:      "192.168.1.1",
		Mask:      "255.255.255.0",
		File:      fw,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig(t)
	tgt, err := cfg.validate()
	require.NoError(t, err)
	require.Equal(t, net.HardwareAddr{0xa4, 0x2b, 0x8c, 0x00, 0x01, 0x02}, tgt.dest)
	require.True(t, tgt.addr.Equal(net.IPv4(192, 168, 1, 1)))
	require.True(t, tgt.mask.Equal(net.IPv4(255, 255, 255, 0)))
}

func TestConfigValidateDefaultsToBroadcast(t *testing.T) {
	cfg := validConfig(t)
	cfg.MAC = ""
	tgt, err := cfg.validate()
	require.NoError(t, err)
	require.Equal(t, net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, tgt.dest)
}

func TestConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing interface", func(c *Config) { c.Interface = "" }},
		{"bad mac", func(c *Config) { c.MAC = "a4-2b-8c-00-01-02" }},
		{"bad addr", func(c *Config) { c.Addr = "192.168.1" }},
		{"ipv6 addr", func(c *Config) { c.Addr = "fe80::1" }},
		{"bad mask", func(c *Config) { c.Mask = "not-a-mask" }},
		{"unreadable file", func(c *Config) { c.File = c.File + ".missing" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			_, err := cfg.validate()
			require.Error(t, err)
		})
	}
}

func TestConfigValidateCommandSkipsFileCheck(t *testing.T) {
	cfg := validConfig(t)
	cfg.File = ""
	cfg.Command = "tftp -m binary 192.168.1.1 -c put firmware.img"
	_, err := cfg.validate()
	require.NoError(t, err)
}
