// Copyright 2025 Elmscope Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probe

import (
	"strings"
	"time"

	"github.com/elmscope/elmscope/pkg/fingerprint"
	"github.com/elmscope/elmscope/pkg/packet"
)

// ExpectKind selects how a response is judged.
type ExpectKind string

// Expectation kinds.
const (
	ExpectContains      ExpectKind = "contains"
	ExpectEquals        ExpectKind = "equals"
	ExpectPrefix        ExpectKind = "prefix"
	ExpectPIDFormat     ExpectKind = "pid_format"
	ExpectNotError      ExpectKind = "not_error"
	ExpectErrorExpected ExpectKind = "error_expected"
	ExpectMinVersion    ExpectKind = "min_version"
	ExpectAny           ExpectKind = "any"
)

// Expectation is the pass condition of a step.
type Expectation struct {
	Kind  ExpectKind `yaml:"kind" json:"kind"`
	Value string     `yaml:"value,omitempty" json:"value,omitempty"`
}

// String renders the expectation for reports.
func (e Expectation) String() string {
	if e.Value == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + " " + e.Value
}

// Step is one command the Driver sends.
type Step struct {
	Suite       string
	Category    Category
	Command     string
	Description string
	Expect      Expectation
	Timeout     time.Duration
	// Delay is waited after the response, before the next step.
	Delay time.Duration
}

// Evaluate judges a normalized response. A nil response never passes.
func (e Expectation) Evaluate(command string, response *string) (bool, string) {
	if response == nil {
		return false, "no response"
	}
	resp := *response
	switch e.Kind {
	case ExpectContains:
		return check(strings.Contains(resp, e.Value), "missing "+e.Value)
	case ExpectEquals:
		return check(resp == e.Value, "want "+e.Value)
	case ExpectPrefix:
		return check(strings.HasPrefix(resp, e.Value), "want prefix "+e.Value)
	case ExpectPIDFormat:
		return check(ValidPIDResponse(command, resp), "malformed PID response")
	case ExpectNotError:
		return check(!IsRejection(resp), "rejected")
	case ExpectErrorExpected:
		return check(strings.Contains(resp, packet.Unknown) || strings.Contains(resp, packet.SentinelError), "accepted invalid command")
	case ExpectMinVersion:
		ok, err := fingerprint.SatisfiesFirmware(resp, e.Value)
		if err != nil {
			return false, err.Error()
		}
		return check(ok, "firmware below "+e.Value)
	case ExpectAny:
		return true, ""
	default:
		return false, "unknown expectation " + string(e.Kind)
	}
}

func check(ok bool, reason string) (bool, string) {
	if ok {
		return true, ""
	}
	return false, reason
}

// IsRejection reports whether an adapter refused a command: an ERROR
// anywhere in the response, a bare "?", or a prompt with nothing before it.
func IsRejection(response string) bool {
	return strings.Contains(response, packet.SentinelError) ||
		response == packet.Unknown ||
		response == ""
}

// ValidPIDResponse reports whether response answers the mode 01 request in
// command: its first line, spaces ignored, starts with "41" and the
// requested PID byte.
func ValidPIDResponse(command, response string) bool {
	cmd := strings.ToUpper(strings.ReplaceAll(command, " ", ""))
	if len(cmd) < 4 || cmd[:2] != "01" {
		return false
	}
	first, _, _ := strings.Cut(strings.ReplaceAll(response, "\n", "\r"), "\r")
	s := strings.ToUpper(strings.ReplaceAll(first, " ", ""))
	return strings.HasPrefix(s, "41"+cmd[2:4])
}
