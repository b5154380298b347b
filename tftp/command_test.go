package tftp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandUpload(t *testing.T) {
	ip := net.IPv4(192, 168, 1, 1)

	require.NoError(t, (&Command{Cmd: "exit 0"}).Upload(ip))
	require.Error(t, (&Command{Cmd: "exit 1"}).Upload(ip))
}
