package nmrp

import (
	"bytes"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/mdlayher/ethernet"
	"github.com/stretchr/testify/require"

	"github.com/metal-stack/nmrpflash/pcap"
)

var (
	testLocalMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	testDeviceMAC = net.HardwareAddr{0xa4, 0x2b, 0x8c, 0x00, 0x01, 0x02}
)

// timeoutError mimics a read deadline expiry from the packet socket.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type recvStep struct {
	frame []byte
	err   error
}

type sentFrame struct {
	b   []byte
	dst net.HardwareAddr
}

// scriptConn plays back a fixed sequence of receive results and
// records everything sent. Once the script runs out, every receive
// times out.
type scriptConn struct {
	steps     []recvStep
	sent      []sentFrame
	deadlines []time.Time
	closed    bool
}

func (c *scriptConn) Recv(b []byte) (int, error) {
	if len(c.steps) == 0 {
		return 0, timeoutError{}
	}
	st := c.steps[0]
	c.steps = c.steps[1:]
	if st.err != nil {
		return 0, st.err
	}
	return copy(b, st.frame), nil
}

func (c *scriptConn) Send(b []byte, dst net.HardwareAddr) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	c.sent = append(c.sent, sentFrame{b: cp, dst: dst})
	return nil
}

func (c *scriptConn) SetReadDeadline(t time.Time) error {
	c.deadlines = append(c.deadlines, t)
	return nil
}

func (c *scriptConn) Close() error {
	c.closed = true
	return nil
}

func testConn(sc *scriptConn) *Conn {
	return &Conn{
		conn: sc,
		intf: &net.Interface{
			Index:        2,
			Name:         "eth0",
			HardwareAddr: testLocalMAC,
		},
	}
}

// rawFrame builds the wire form of one NMRP frame as the device would
// send it.
func rawFrame(t *testing.T, src, dst net.HardwareAddr, msg *Message) []byte {
	t.Helper()
	msg.UpdateLength()
	payload, err := msg.Marshal()
	require.NoError(t, err)
	f := &ethernet.Frame{
		Destination: dst,
		Source:      src,
		EtherType:   ethernet.EtherType(EtherType),
		Payload:     payload,
	}
	b, err := f.MarshalBinary()
	require.NoError(t, err)
	return b
}

// pad extends a frame to the Ethernet minimum, as the link would.
func pad(b []byte) []byte {
	if len(b) >= 60 {
		return b
	}
	return append(b, make([]byte, 60-len(b))...)
}

// sentMessage decodes the i-th frame sent through the script conn.
func sentMessage(t *testing.T, sc *scriptConn, i int) (*Message, net.HardwareAddr) {
	t.Helper()
	require.Greater(t, len(sc.sent), i)
	var eth ethernet.Frame
	require.NoError(t, eth.UnmarshalBinary(sc.sent[i].b))
	require.EqualValues(t, EtherType, eth.EtherType)
	msg, err := Unmarshal(eth.Payload)
	require.NoError(t, err)
	return msg, eth.Destination
}

func sentCodes(t *testing.T, sc *scriptConn) []Code {
	t.Helper()
	codes := make([]Code, 0, len(sc.sent))
	for i := range sc.sent {
		m, _ := sentMessage(t, sc, i)
		codes = append(codes, m.Code)
	}
	return codes
}

func TestConnSend(t *testing.T) {
	sc := &scriptConn{}
	c := testConn(sc)

	require.NoError(t, c.Send(NewAdvertise(), ethernet.Broadcast))

	require.Len(t, sc.sent, 1)
	msg, dst := sentMessage(t, sc, 0)
	require.Equal(t, CodeAdvertise, msg.Code)
	require.Equal(t, ethernet.Broadcast, dst)

	var eth ethernet.Frame
	require.NoError(t, eth.UnmarshalBinary(sc.sent[0].b))
	require.Equal(t, testLocalMAC, eth.Source)
}

func TestConnRecv(t *testing.T) {
	sc := &scriptConn{steps: []recvStep{
		{frame: pad(rawFrame(t, testDeviceMAC, testLocalMAC, &Message{Code: CodeConfReq}))},
	}}
	c := testConn(sc)

	f, err := c.Recv()
	require.NoError(t, err)
	require.Equal(t, CodeConfReq, f.Msg.Code)
	require.Equal(t, testDeviceMAC, f.Src)
	require.Equal(t, testLocalMAC, f.Dst)
}

func TestConnRecvShortFrame(t *testing.T) {
	sc := &scriptConn{steps: []recvStep{
		{frame: make([]byte, 13)},
	}}
	c := testConn(sc)

	_, err := c.Recv()
	require.Error(t, err)
	require.False(t, IsMalformed(err), "a short frame is an I/O error, not a parse error")
	require.False(t, os.IsTimeout(err))
}

func TestConnRecvWrongEtherType(t *testing.T) {
	f := &ethernet.Frame{
		Destination: testLocalMAC,
		Source:      testDeviceMAC,
		EtherType:   ethernet.EtherTypeIPv4,
		Payload:     make([]byte, 28),
	}
	b, err := f.MarshalBinary()
	require.NoError(t, err)

	sc := &scriptConn{steps: []recvStep{{frame: b}}}
	c := testConn(sc)

	_, err = c.Recv()
	require.ErrorIs(t, err, errNotNMRP)
}

func TestConnRecvTruncatedMessage(t *testing.T) {
	msg := &Message{Code: CodeConfReq}
	msg.Length = 40 // claims more than the frame carries
	payload, err := msg.Marshal()
	require.NoError(t, err)
	f := &ethernet.Frame{
		Destination: testLocalMAC,
		Source:      testDeviceMAC,
		EtherType:   ethernet.EtherType(EtherType),
		Payload:     payload,
	}
	b, err := f.MarshalBinary()
	require.NoError(t, err)

	sc := &scriptConn{steps: []recvStep{{frame: b}}}
	c := testConn(sc)

	_, err = c.Recv()
	require.Error(t, err)
	require.False(t, IsMalformed(err), "a truncated frame is an I/O error, not a parse error")
}

func TestConnRecvMalformedOptions(t *testing.T) {
	// Option declares length 3, below the 4-byte option header.
	payload := []byte{0, 0, 2, 0, 0, 10, 0, 1, 0, 3}
	f := &ethernet.Frame{
		Destination: testLocalMAC,
		Source:      testDeviceMAC,
		EtherType:   ethernet.EtherType(EtherType),
		Payload:     payload,
	}
	b, err := f.MarshalBinary()
	require.NoError(t, err)

	sc := &scriptConn{steps: []recvStep{{frame: pad(b)}}}
	c := testConn(sc)

	_, err = c.Recv()
	require.Error(t, err)
	require.True(t, IsMalformed(err))
}

func TestConnRecvTimeout(t *testing.T) {
	sc := &scriptConn{}
	c := testConn(sc)
	c.SetReadTimeout(5 * time.Second)

	before := time.Now()
	_, err := c.Recv()
	require.Error(t, err)
	require.True(t, os.IsTimeout(err))

	require.Len(t, sc.deadlines, 1)
	require.True(t, sc.deadlines[0].After(before.Add(4*time.Second)))
}

func TestConnCapture(t *testing.T) {
	var trace bytes.Buffer
	sc := &scriptConn{steps: []recvStep{
		{frame: pad(rawFrame(t, testDeviceMAC, testLocalMAC, &Message{Code: CodeConfReq}))},
	}}
	c := testConn(sc)
	c.Capture = &pcap.Writer{Writer: &trace, LinkType: pcap.LinkEthernet, SnapLen: 1500}

	require.NoError(t, c.Send(NewAdvertise(), ethernet.Broadcast))
	_, err := c.Recv()
	require.NoError(t, err)

	r, err := pcap.NewReader(&trace)
	require.NoError(t, err)
	require.Equal(t, pcap.LinkEthernet, r.LinkType)
	for i := 0; i < 2; i++ {
		pkt, err := r.Next()
		require.NoError(t, err)
		require.NotEmpty(t, pkt.Bytes)
	}
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}
