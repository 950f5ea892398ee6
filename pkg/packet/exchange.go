package packet

import "strings"

// Wire tokens of the ELM327 dialect.
const (
	SentinelOK    = "OK"
	SentinelError = "ERROR"
	Prompt        = ">"
	Unknown       = "?"
	CommandPrefix = "AT"
)

// Exchange is one command paired with its (possibly absent) response.
// Response and LatencyMs stay nil until a response is matched.
type Exchange struct {
	Timestamp float64  `json:"timestamp"`
	Device    string   `json:"device"`
	Command   string   `json:"command"`
	Response  *string  `json:"response"`
	LatencyMs *float64 `json:"latency_ms"`
}

// Matched reports whether a response was paired with the command.
func (e Exchange) Matched() bool {
	return e.Response != nil
}

// ResponseText returns the response or "" when unmatched.
func (e Exchange) ResponseText() string {
	if e.Response == nil {
		return ""
	}
	return *e.Response
}

// IsError reports whether the response equals the error sentinel.
func (e Exchange) IsError() bool {
	return e.Response != nil && *e.Response == SentinelError
}

// Latency returns the latency and whether one was recorded.
func (e Exchange) Latency() (float64, bool) {
	if e.LatencyMs == nil {
		return 0, false
	}
	return *e.LatencyMs, true
}

// Complete returns a copy of e with the response and latency filled in.
func (e Exchange) Complete(response string, latencyMs float64) Exchange {
	e.Response = &response
	e.LatencyMs = &latencyMs
	return e
}

// TimedOut returns a copy of e with no response and the timeout recorded as latency.
func (e Exchange) TimedOut(timeoutMs float64) Exchange {
	e.Response = nil
	e.LatencyMs = &timeoutMs
	return e
}

// IsCommand reports whether trimmed text starts with the AT prefix.
func IsCommand(text string) bool {
	text = TrimControl(text)
	return len(text) >= 2 && strings.EqualFold(text[:2], CommandPrefix)
}

// IsSentinelResponse reports whether text is an OK/ERROR sentinel (ignoring a
// trailing prompt) or begins with the prompt character.
func IsSentinelResponse(text string) bool {
	if strings.HasPrefix(TrimControl(text), Prompt) {
		return true
	}
	norm := NormalizeResponse(text)
	return norm == SentinelOK || norm == SentinelError
}

// NormalizeResponse trims control characters and a trailing prompt so that
// "OK\r\r>" and "OK" compare equal. A prompt-only payload normalises to "".
func NormalizeResponse(text string) string {
	text = TrimControl(text)
	for strings.HasSuffix(text, Prompt) {
		text = TrimControl(strings.TrimSuffix(text, Prompt))
	}
	return text
}
