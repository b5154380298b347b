package pcap

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	pkts := []*Packet{
		{Timestamp: time.Unix(1700000000, 1000), Length: 60, Bytes: []byte{1, 2, 3, 4}},
		{Timestamp: time.Unix(1700000001, 2000), Length: 22, Bytes: []byte{5, 6, 7, 8, 9}},
		{Timestamp: time.Unix(1700000002, 3000), Length: 10, Bytes: []byte{10}},
	}

	var b bytes.Buffer
	w := &Writer{Writer: &b, LinkType: LinkEthernet, SnapLen: 65535}
	for _, pkt := range pkts {
		require.NoError(t, w.Put(pkt))
	}

	r, err := NewReader(&b)
	require.NoError(t, err)
	require.Equal(t, LinkEthernet, r.LinkType)

	for i, want := range pkts {
		got, err := r.Next()
		require.NoError(t, err, "packet %d", i)
		require.Equal(t, want.Bytes, got.Bytes, "packet %d", i)
		require.Equal(t, want.Length, got.Length, "packet %d", i)
		require.Equal(t, want.Timestamp.UnixNano(), got.Timestamp.UnixNano(), "packet %d", i)
	}
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderRejectsGarbage(t *testing.T) {
	_, err := NewReader(bytes.NewReader(make([]byte, 24)))
	require.Error(t, err)
}
