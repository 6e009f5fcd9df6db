package terminal

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
	"github.com/gregLibert/zvt-ecr/pkg/packets"
	"github.com/gregLibert/zvt-ecr/pkg/transmission"
)

// ptConn scripts the terminal side of a TCP connection.
type ptConn struct {
	t    *testing.T
	conn net.Conn
}

// readAPDU consumes one APDU off the stream.
func (c *ptConn) readAPDU() []byte {
	c.t.Helper()

	head := make([]byte, 3)
	_, err := io.ReadFull(c.conn, head)
	require.NoError(c.t, err)

	length := int(head[2])
	if length == 0xFF {
		ext := make([]byte, 2)
		_, err := io.ReadFull(c.conn, ext)
		require.NoError(c.t, err)
		head = append(head, ext...)
		length = int(ext[0]) | int(ext[1])<<8
	}

	body := make([]byte, length)
	_, err = io.ReadFull(c.conn, body)
	require.NoError(c.t, err)
	return append(head, body...)
}

// expectAck requires the next APDU to be the 80 00 acknowledge.
func (c *ptConn) expectAck() {
	c.t.Helper()
	assert.Equal(c.t, bcd.Hex("80 00 00"), c.readAPDU())
}

func (c *ptConn) send(apdu []byte) {
	c.t.Helper()
	_, err := c.conn.Write(apdu)
	require.NoError(c.t, err)
}

// startPT runs a scripted terminal on a loopback listener and returns
// the device address to dial.
func startPT(t *testing.T, script func(c *ptConn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(&ptConn{t: t, conn: conn})
	}()
	t.Cleanup(func() {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("scripted terminal did not finish")
		}
	})

	return "socket://" + ln.Addr().String()
}

func connect(t *testing.T, device string, cfg Config) *ECR {
	t.Helper()
	cfg.Device = device
	ecr, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { ecr.Close() })
	return ecr
}

func TestPayment_Success(t *testing.T) {
	device := startPT(t, func(c *ptConn) {
		auth := c.readAPDU()
		assert.Equal(t, bcd.Hex("06 01"), auth[:2])

		c.send(bcd.Hex("04 FF 01 17")) // please wait
		c.expectAck()
		c.send(append(bcd.Hex("06 D1 08 00"), []byte("SUCCESS")...))
		c.expectAck()
		c.send(bcd.Hex("06 0F 00"))
		c.expectAck()
	})

	var printed []string
	var statuses []byte
	ecr := connect(t, device, Config{
		Printer:        func(lines []string) { printed = append(printed, lines...) },
		StatusListener: func(code byte) { statuses = append(statuses, code) },
	})

	ok, err := ecr.Payment(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"SUCCESS"}, printed)
	assert.Equal(t, []byte{0x17}, statuses)
	assert.Equal(t, []string{"SUCCESS"}, ecr.LastPrintout())
}

func TestPayment_Aborted(t *testing.T) {
	device := startPT(t, func(c *ptConn) {
		c.readAPDU()
		c.send(bcd.Hex("06 1E 01 6C")) // card not readable
		c.expectAck()
	})

	ecr := connect(t, device, Config{})

	ok, err := ecr.Payment(50)
	require.NoError(t, err)
	assert.False(t, ok)

	abort, isAbort := ecr.Last().Completion.(*packets.Abort)
	require.True(t, isAbort)
	assert.Equal(t, byte(0x6C), abort.ErrorCode)
	assert.Equal(t, transmission.Aborted, ecr.Last().Result)
}

func TestRegister_CapturesTerminalID(t *testing.T) {
	device := startPT(t, func(c *ptConn) {
		reg := c.readAPDU()
		assert.Equal(t, bcd.Hex("06 00 06 12 34 56 BE 09 78"), reg)

		c.send(bcd.Hex("06 0F 05 29 52 52 31 13"))
		c.expectAck()
	})

	ecr := connect(t, device, Config{})
	require.NoError(t, ecr.Register(packets.DefaultRegistrationConfig().Byte()))
	assert.Equal(t, uint64(52523113), ecr.TerminalID())
}

func TestStatus_CapturesVersion(t *testing.T) {
	completion := append(bcd.Hex("F0 F0 F4"), []byte("v2.1")...)
	completion = append(completion, 0x00)
	completion = append([]byte{0x06, 0x0F, byte(len(completion))}, completion...)

	device := startPT(t, func(c *ptConn) {
		enquiry := c.readAPDU()
		assert.Equal(t, bcd.Hex("05 01 03 12 34 56"), enquiry)

		c.send(completion)
		c.expectAck()
	})

	ecr := connect(t, device, Config{})
	status, err := ecr.Status()
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), status)
	assert.Equal(t, "v2.1", ecr.Version())
}

func TestEndOfDay_Totals(t *testing.T) {
	totals := bcd.Hex("00 01 00 42")
	totals = append(totals, append([]byte{3}, bcd.Hex("00 00 00 01 25 00")...)...)
	for i := 0; i < 6; i++ {
		totals = append(totals, append([]byte{0}, bcd.Hex("00 00 00 00 00 00")...)...)
	}

	body := bcd.Hex("04 00 00 00 01 25 00")
	body = append(body, 0x60, 0xF0, 0xF5, 0xF3)
	body = append(body, totals...)
	statusInfo := append([]byte{0x04, 0x0F, byte(len(body))}, body...)

	device := startPT(t, func(c *ptConn) {
		eod := c.readAPDU()
		assert.Equal(t, bcd.Hex("06 50 03 12 34 56"), eod)

		c.send(statusInfo)
		c.expectAck()
		c.send(bcd.Hex("06 0F 00"))
		c.expectAck()
	})

	ecr := connect(t, device, Config{
		Clock: func() time.Time { return time.Date(2022, 4, 19, 20, 0, 0, 0, time.UTC) },
	})

	summary, err := ecr.EndOfDay()
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, uint64(12500), summary.Amount)
	assert.Equal(t, uint64(1), summary.ReceiptStart)
	assert.Equal(t, uint64(42), summary.ReceiptEnd)
	assert.Equal(t, 3, summary.TotalCount)
	assert.Equal(t, "ec-card", summary.Brands[0].Brand)
	assert.Equal(t, 125.0, summary.Brands[0].Major())

	// No printout arrived, so the daylog is rendered from the totals.
	assert.NotEmpty(t, ecr.Daylog())
}

func TestShowText(t *testing.T) {
	device := startPT(t, func(c *ptConn) {
		display := c.readAPDU()
		assert.Equal(t, bcd.Hex("06 E0"), display[:2])
		c.send(bcd.Hex("80 00 00"))
	})

	ecr := connect(t, device, Config{})
	require.NoError(t, ecr.ShowText([]string{"Hello world!", "", "Bye", "x", "dropped"}, 5, 1))
}

func TestNew_BadDevice(t *testing.T) {
	_, err := New(Config{Device: "ftp://nope"})
	assert.Error(t, err)
}

func TestNew_ConnectRefused(t *testing.T) {
	// A listener that is closed immediately leaves a port nobody
	// accepts on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = New(Config{Device: "socket://" + addr})
	assert.Error(t, err)
}
