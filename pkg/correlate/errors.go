package correlate

import "errors"

// ErrCausalityViolation marks a response whose timestamp precedes its command.
// The exchange is discarded; correlation continues.
var ErrCausalityViolation = errors.New("causality violation")
