package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultIdentity is what ATZ and ATI return on a genuine v1.5 clone.
const DefaultIdentity = "ELM327 v1.5"

var protocolNames = map[int]string{
	0: "AUTO",
	1: "SAE J1850 PWM",
	2: "SAE J1850 VPW",
	3: "ISO 9141-2",
	4: "ISO 14230-4 KWP2000",
	6: "ISO 15765-4 CAN (11-bit, 500kbps)",
	7: "ISO 15765-4 CAN (29-bit, 500kbps)",
}

// pidEncoders render mode 01 data bytes for the PIDs the emulator supports.
var pidEncoders = map[byte]func(v vehicle) []byte{
	0x04: func(v vehicle) []byte { return []byte{pct(v.loadPct)} },
	0x05: func(v vehicle) []byte { return []byte{byte(v.coolantC + 40)} },
	0x0A: func(v vehicle) []byte { return []byte{byte(v.fuelKPa / 3)} },
	0x0C: func(v vehicle) []byte { return u16(uint16(v.rpm * 4)) },
	0x0D: func(v vehicle) []byte { return []byte{byte(v.speedKmh)} },
	0x0F: func(v vehicle) []byte { return []byte{byte(v.intakeC + 40)} },
	0x11: func(v vehicle) []byte { return []byte{pct(v.throttlePct)} },
	0x1F: func(v vehicle) []byte { return u16(uint16(v.runtime.Seconds())) },
	0x2F: func(v vehicle) []byte { return []byte{pct(v.fuelLevelPct)} },
	0x42: func(v vehicle) []byte { return u16(uint16(v.voltage * 1000)) },
	0x46: func(v vehicle) []byte { return []byte{byte(v.ambientC + 40)} },
}

func pct(v float64) byte  { return byte(v * 2.55) }
func u16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

type vehicle struct {
	rpm          float64
	speedKmh     float64
	coolantC     float64
	intakeC      float64
	ambientC     float64
	throttlePct  float64
	loadPct      float64
	fuelLevelPct float64
	fuelKPa      float64
	voltage      float64
	runtime      time.Duration
}

// EmulatorOption configures an Emulator.
type EmulatorOption func(*Emulator)

// WithLatency sets how long the emulator takes to answer each command.
func WithLatency(d time.Duration) EmulatorOption {
	return func(e *Emulator) { e.latency = d }
}

// WithIdentity overrides the ATZ/ATI identification string.
func WithIdentity(id string) EmulatorOption {
	return func(e *Emulator) { e.identity = id }
}

// WithOverride makes cmd answer with a fixed response, e.g. to model a clone
// that rejects a command genuine adapters accept.
func WithOverride(cmd, response string) EmulatorOption {
	return func(e *Emulator) { e.overrides[strings.ToUpper(cmd)] = response }
}

// Emulator is an in-process ELM327. It is the reference adapter for
// self-tests and behaves like the firmware: echo and linefeeds are on after
// reset, and OBD requests fail with BUS INIT until a protocol is selected.
type Emulator struct {
	mu        sync.Mutex
	latency   time.Duration
	identity  string
	overrides map[string]string
	started   time.Time

	echo      bool
	linefeeds bool
	spaces    bool
	headers   bool
	ready     bool
	protocol  int

	queue  [][]byte
	closed bool
}

// NewEmulator builds an emulator answering after 50ms by default.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		latency:   50 * time.Millisecond,
		identity:  DefaultIdentity,
		overrides: make(map[string]string),
		started:   time.Now(),
		linefeeds: true,
		spaces:    true,
		ready:     true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send implements Transport.
func (e *Emulator) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return WrapTransportError("send", fmt.Errorf("emulator closed"))
	}
	e.queue = append(e.queue, []byte(e.process(string(payload))))
	return nil
}

// Receive implements Transport.
func (e *Emulator) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, WrapTransportError("receive", fmt.Errorf("emulator closed"))
	}
	var resp []byte
	if len(e.queue) > 0 {
		resp = e.queue[0]
		e.queue = e.queue[1:]
	}
	latency := e.latency
	e.mu.Unlock()

	if resp == nil || latency > timeout {
		return nil, wait(ctx, timeout, NewTimeoutError(timeout, 0))
	}
	if err := wait(ctx, latency, nil); err != nil {
		return nil, err
	}
	return resp, nil
}

func wait(ctx context.Context, d time.Duration, after error) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return after
	}
}

// Close implements Transport.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.queue = nil
	return nil
}

// Answer runs one command through the emulator state machine and returns the
// raw response with prompt. It does not wait.
func (e *Emulator) Answer(cmd string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process(cmd)
}

func (e *Emulator) process(raw string) string {
	cmd := strings.ToUpper(strings.TrimSpace(raw))

	var resp string
	if o, ok := e.overrides[cmd]; ok {
		resp = o
	} else {
		switch {
		case strings.HasPrefix(cmd, "AT"):
			resp = e.processAT(strings.TrimSpace(cmd[2:]))
		case cmd == "":
			resp = "NO DATA"
		case isOBDRequest(cmd):
			resp = e.processOBD(cmd)
		default:
			resp = "?"
		}
	}

	if e.echo && !strings.HasPrefix(cmd, "ATE0") {
		resp = cmd + "\r" + resp
	}
	if e.linefeeds {
		return resp + "\r>"
	}
	return resp + ">"
}

func isOBDRequest(cmd string) bool {
	if len(cmd) < 2 {
		return false
	}
	mode, err := strconv.ParseUint(cmd[:2], 16, 8)
	return err == nil && mode >= 1 && mode <= 9
}

func (e *Emulator) reset() {
	e.echo = true
	e.linefeeds = true
	e.spaces = true
	e.headers = false
	e.ready = false
	e.protocol = 0
}

func (e *Emulator) processAT(cmd string) string {
	switch cmd {
	case "Z":
		e.reset()
		return e.identity
	case "WS":
		return e.identity
	case "I":
		return e.identity
	case "E0":
		e.echo = false
		return "OK"
	case "E1":
		e.echo = true
		return "OK"
	case "L0":
		e.linefeeds = false
		return "OK"
	case "L1":
		e.linefeeds = true
		return "OK"
	case "S0":
		e.spaces = false
		return "OK"
	case "S1":
		e.spaces = true
		return "OK"
	case "H0":
		e.headers = false
		return "OK"
	case "H1":
		e.headers = true
		return "OK"
	case "DP":
		return protocolNames[e.protocol]
	case "DPN":
		return strconv.Itoa(e.protocol)
	case "RV":
		return fmt.Sprintf("%.1fV", e.vehicle().voltage)
	case "@1":
		return "OBDII to RS232 Interpreter"
	}

	if strings.HasPrefix(cmd, "SP") {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimPrefix(cmd, "SP"), "A"))
		if err != nil {
			return "?"
		}
		if _, ok := protocolNames[n]; !ok {
			return "?"
		}
		e.protocol = n
		e.ready = true
		return "OK"
	}
	return "?"
}

func (e *Emulator) vehicle() vehicle {
	return vehicle{
		rpm:          800,
		speedKmh:     0,
		coolantC:     90,
		intakeC:      25,
		ambientC:     20,
		throttlePct:  15,
		loadPct:      20,
		fuelLevelPct: 75,
		fuelKPa:      300,
		voltage:      12.6,
		runtime:      time.Since(e.started),
	}
}

func (e *Emulator) processOBD(cmd string) string {
	if !e.ready {
		return "BUS INIT: ...ERROR"
	}
	mode := cmd[:2]
	switch mode {
	case "01":
		if len(cmd) < 4 {
			return "NO DATA"
		}
		pid, err := strconv.ParseUint(cmd[2:4], 16, 8)
		if err != nil {
			return "NO DATA"
		}
		return e.pidResponse(byte(pid))
	case "03":
		return "NO DATA"
	case "04":
		return "44"
	case "09":
		switch {
		case strings.HasPrefix(cmd, "0902"):
			return "49 02 01 00 00 00 31 44 34 47 50 30 30 42 35 35 42 31 32 33 34 35 36"
		case strings.HasPrefix(cmd, "090A"):
			return "49 0A 01 43 48 49 47 45 45 20 45 43 55 00 00 00 00 00 00 00 00"
		}
	}
	return "NO DATA"
}

func (e *Emulator) pidResponse(pid byte) string {
	var data []byte
	if pid == 0x00 {
		var mask uint32
		for p := range pidEncoders {
			if p >= 0x01 && p <= 0x20 {
				mask |= 1 << (32 - uint32(p))
			}
		}
		data = []byte{byte(mask >> 24), byte(mask >> 16), byte(mask >> 8), byte(mask)}
	} else {
		enc, ok := pidEncoders[pid]
		if !ok {
			return "NO DATA"
		}
		data = enc(e.vehicle())
	}

	parts := []string{"41", fmt.Sprintf("%02X", pid)}
	for _, b := range data {
		parts = append(parts, fmt.Sprintf("%02X", b))
	}
	sep := " "
	if !e.spaces {
		sep = ""
	}
	return strings.Join(parts, sep)
}
