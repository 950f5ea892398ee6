package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-ping/ping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmscope/elmscope/pkg/packet"
	"github.com/elmscope/elmscope/pkg/trafficlog"
)

func roundTrip(t *testing.T, tr Transport, cmd string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, []byte(cmd+"\r")))
	resp, err := tr.Receive(ctx, time.Second)
	require.NoError(t, err)
	return packet.NormalizeResponse(string(resp))
}

func TestEmulator_InitSequence(t *testing.T) {
	e := NewEmulator(WithLatency(time.Millisecond))

	assert.Equal(t, "ATZ\rELM327 v1.5", roundTrip(t, e, "ATZ"))
	assert.Equal(t, "OK", roundTrip(t, e, "ATE0"))
	assert.Equal(t, "ELM327 v1.5", roundTrip(t, e, "ATI"))
	assert.Equal(t, "BUS INIT: ...ERROR", roundTrip(t, e, "010C"))
	assert.Equal(t, "AUTO", roundTrip(t, e, "ATDP"))
	assert.Equal(t, "OK", roundTrip(t, e, "ATSP6"))
	assert.Equal(t, "ISO 15765-4 CAN (11-bit, 500kbps)", roundTrip(t, e, "ATDP"))
	assert.Equal(t, "6", roundTrip(t, e, "ATDPN"))
	assert.Equal(t, "41 0C 0C 80", roundTrip(t, e, "010C"))
	assert.Equal(t, "12.6V", roundTrip(t, e, "ATRV"))
	assert.Equal(t, "OBDII to RS232 Interpreter", roundTrip(t, e, "AT@1"))
}

func TestEmulator_Responses(t *testing.T) {
	e := NewEmulator(WithLatency(0))
	e.Answer("ATE0")

	tests := []struct {
		cmd  string
		want string
	}{
		{"ATXYZ", "?\r>"},
		{"AT!@#", "?\r>"},
		{"INVALIDCMD", "?\r>"},
		{"ATSP9", "?\r>"},
		{"", "NO DATA\r>"},
		{"010D", "41 0D 00\r>"},
		{"0105", "41 05 82\r>"},
		{"0142", "41 42 31 38\r>"},
		{"0100", "41 00 18 5A 80 02\r>"},
		{"0199", "NO DATA\r>"},
		{"04", "44\r>"},
		{"0902", "49 02 01 00 00 00 31 44 34 47 50 30 30 42 35 35 42 31 32 33 34 35 36\r>"},
		{"atl0", "OK>"},
		{"ATS0", "OK>"},
		{"0111", "411126>"},
	}
	for _, tc := range tests {
		t.Run(tc.cmd, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Answer(tc.cmd))
		})
	}
}

func TestEmulator_OverrideAndIdentity(t *testing.T) {
	e := NewEmulator(WithLatency(0), WithIdentity("ELM327 v2.1"), WithOverride("atsp0", "ERROR"))
	e.Answer("ATE0")
	assert.Equal(t, "ELM327 v2.1\r>", e.Answer("ATI"))
	assert.Equal(t, "ERROR\r>", e.Answer("ATSP0"))
}

func TestEmulator_TimeoutAndCancel(t *testing.T) {
	e := NewEmulator(WithLatency(200 * time.Millisecond))

	_, err := e.Receive(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout, "nothing queued")

	require.NoError(t, e.Send(context.Background(), []byte("ATI\r")))
	_, err = e.Receive(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout, "slower than timeout")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Send(ctx, []byte("ATI\r")))
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = e.Receive(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Send(context.Background(), []byte("ATZ")), ErrTransport)
	_, err = e.Receive(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestTCP_ReadsUntilPrompt(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	tr := NewTCP(client)
	defer tr.Close()

	go func() {
		buf := make([]byte, 64)
		n, _ := server.Read(buf)
		if strings.TrimSpace(string(buf[:n])) != "ATI" {
			return
		}
		_, _ = server.Write([]byte("ELM327 "))
		time.Sleep(20 * time.Millisecond)
		_, _ = server.Write([]byte("v1.5\r\r>"))
	}()

	assert.Equal(t, "ELM327 v1.5", roundTrip(t, tr, "ATI"))
}

func TestTCP_Timeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	tr := NewTCP(client)
	defer tr.Close()

	go func() {
		_, _ = server.Write([]byte("SEARCHING..."))
	}()
	_, err := tr.Receive(context.Background(), 120*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "12 bytes without prompt")
	assert.Equal(t, 6, ExitCode(err))
}

func TestTCP_ClosedPeer(t *testing.T) {
	client, server := net.Pipe()
	tr := NewTCP(client)
	require.NoError(t, server.Close())

	_, err := tr.Receive(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, tr.Send(context.Background(), []byte("ATZ\r")), ErrTransport)
}

// slowFirstReply serves one connection: the first command is answered after
// delay, every later one at once.
func slowFirstReply(t *testing.T, delay time.Duration, replies map[string]string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for first := true; ; first = false {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if first {
				time.Sleep(delay)
			}
			cmd := strings.TrimSpace(string(buf[:n]))
			if _, err := conn.Write([]byte(replies[cmd] + "\r\r>")); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestTCP_LateReplyIsDiscarded(t *testing.T) {
	addr := slowFirstReply(t, 300*time.Millisecond, map[string]string{
		"ATI":  "ELM327 v1.5",
		"ATRV": "NO DATA",
	})
	tr, err := DialTCP(context.Background(), addr)
	require.NoError(t, err)
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, []byte("ATI\r")))
	_, err = tr.Receive(ctx, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	assert.Equal(t, "NO DATA", roundTrip(t, tr, "ATRV"))
}

func TestFramer_SplitsAtPrompt(t *testing.T) {
	chunks := [][]byte{[]byte("OK\r\r>41 0C"), []byte(" 1A F8\r\r>")}
	f := newFramer(func(p []byte, wait time.Duration) (int, error) {
		if len(chunks) == 0 {
			return 0, nil
		}
		n := copy(p, chunks[0])
		chunks = chunks[1:]
		return n, nil
	})

	ctx := context.Background()
	first, err := f.receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK\r\r>", string(first))

	second, err := f.receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "41 0C 1A F8\r\r>", string(second))

	chunks = [][]byte{[]byte("OK\r\r>STOPPED\r\r>")}
	_, err = f.receive(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, f.drain(ctx))
	assert.Empty(t, f.pending, "leftover bytes never reach the next command")
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw     string
		scheme  string
		address string
		baud    int
		wantErr bool
	}{
		{raw: "tcp://192.168.0.10:35000", scheme: SchemeTCP, address: "192.168.0.10:35000"},
		{raw: "tcp://192.168.0.10", scheme: SchemeTCP, address: "192.168.0.10:35000"},
		{raw: "192.168.0.10:23", scheme: SchemeTCP, address: "192.168.0.10:23"},
		{raw: "serial:///dev/rfcomm0?baud=9600", scheme: SchemeSerial, address: "/dev/rfcomm0", baud: 9600},
		{raw: "serial:COM3", scheme: SchemeSerial, address: "COM3"},
		{raw: "emulator://", scheme: SchemeEmulator, address: "emulator"},
		{raw: "", wantErr: true},
		{raw: "bluetooth://00:11", wantErr: true},
		{raw: "serial:///dev/x?baud=fast", wantErr: true},
		{raw: "tcp://", wantErr: true},
		{raw: "nonsense", wantErr: true},
		{raw: "localhost:35000", scheme: SchemeTCP, address: "localhost:35000"},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseTarget(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrBadTarget)
				assert.Equal(t, 2, ExitCode(err))
				assert.NotEmpty(t, Suggestions(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.scheme, got.Scheme)
			assert.Equal(t, tc.address, got.Address)
			assert.Equal(t, tc.baud, got.BaudRate)
		})
	}
}

func TestDial_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	opts := DialOptions{
		Attempts: 3,
		Delay:    time.Millisecond,
		MaxDelay: 2 * time.Millisecond,
		dialTCP: func(ctx context.Context, addr string) (Transport, error) {
			calls++
			if calls < 3 {
				return nil, WrapTransportError("dial", errors.New("connection refused"))
			}
			return NewEmulator(), nil
		},
	}
	target, err := ParseTarget("tcp://10.0.0.1")
	require.NoError(t, err)

	tr, err := Dial(context.Background(), target, opts)
	require.NoError(t, err)
	assert.NotNil(t, tr)
	assert.Equal(t, 3, calls)
}

func TestDial_GivesUp(t *testing.T) {
	calls := 0
	opts := DialOptions{
		Attempts: 2,
		Delay:    time.Millisecond,
		openSerial: func(device string, baud int) (Transport, error) {
			calls++
			assert.Equal(t, 115200, baud)
			return nil, errors.New("no such device")
		},
	}
	target, err := ParseTarget("serial:///dev/ttyUSB9?baud=115200")
	require.NoError(t, err)

	_, err = Dial(context.Background(), target, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 5, ExitCode(err))
}

func TestDial_Emulator(t *testing.T) {
	target, err := ParseTarget("emulator://")
	require.NoError(t, err)
	tr, err := Dial(context.Background(), target, DialOptions{Emulator: []EmulatorOption{WithLatency(0)}})
	require.NoError(t, err)
	_, ok := tr.(*Emulator)
	assert.True(t, ok)
	assert.Equal(t, "emulator://", target.String())
}

func TestRecording_WritesTraffic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.jsonl")
	w, err := trafficlog.NewWriter(path)
	require.NoError(t, err)

	emu := NewEmulator(WithLatency(0))
	emu.Answer("ATE0")
	rec := NewRecording(emu, w, "run-1", "host", "emulator://")
	assert.Equal(t, "OK", roundTrip(t, rec, "ATL1"))
	require.NoError(t, rec.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Written())

	var records []trafficlog.Record
	for r, err := range (trafficlog.Reader{Path: path}).Records(context.Background()) {
		require.NoError(t, err)
		records = append(records, r)
	}
	require.Len(t, records, 2)
	assert.Equal(t, trafficlog.DirectionTX, records[0].Direction)
	assert.Equal(t, "host", records[0].Source)
	assert.Equal(t, "ATL1", records[0].Text)
	assert.Equal(t, trafficlog.DirectionRX, records[1].Direction)
	assert.Equal(t, "emulator://", records[1].Source)
	assert.Equal(t, "run-1", records[1].Session)
	assert.LessOrEqual(t, records[0].Timestamp, records[1].Timestamp)
}

type fakePinger struct {
	recv    int
	runErr  error
	count   int
	timeout time.Duration
}

func (f *fakePinger) Run() error         { return f.runErr }
func (f *fakePinger) Stop()              {}
func (f *fakePinger) SetPrivileged(bool) {}
func (f *fakePinger) SetCount(c int)     { f.count = c }
func (f *fakePinger) SetTimeout(d time.Duration) {
	f.timeout = d
}
func (f *fakePinger) Statistics() *ping.Statistics {
	return &ping.Statistics{PacketsSent: f.count, PacketsRecv: f.recv, AvgRtt: 3 * time.Millisecond}
}

func TestPreflight(t *testing.T) {
	target, err := ParseTarget("tcp://192.168.0.10:35000")
	require.NoError(t, err)

	ok := &fakePinger{recv: 2}
	res, err := Preflight(context.Background(), target, PreflightOptions{
		Factory: func(host string) (Pinger, error) {
			assert.Equal(t, "192.168.0.10", host)
			return ok, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.PacketsSent)
	assert.Equal(t, 3*time.Second, ok.timeout)

	_, err = Preflight(context.Background(), target, PreflightOptions{
		Factory: func(string) (Pinger, error) { return &fakePinger{}, nil },
	})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, 5, ExitCode(err))

	_, err = Preflight(context.Background(), target, PreflightOptions{
		Factory: func(string) (Pinger, error) { return &fakePinger{runErr: os.ErrPermission}, nil },
	})
	assert.ErrorIs(t, err, ErrUnreachable)

	emu, err := ParseTarget("emulator://")
	require.NoError(t, err)
	_, err = Preflight(context.Background(), emu, PreflightOptions{})
	assert.NoError(t, err)
}

func TestErrorHelpers(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, 0, ExitCode(nil))
	assert.Nil(t, Suggestions(nil))
	assert.Nil(t, WrapTransportError("x", nil))
	assert.Equal(t, errorCodeTimeout, ErrorCode(NewTimeoutError(time.Second, 0)))
	assert.Equal(t, errorCodeTransport, ErrorCode(WrapTransportError("send", errors.New("boom"))))
	assert.Equal(t, "", ErrorCode(errors.New("boom")), "foreign errors carry no transport code")
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}
