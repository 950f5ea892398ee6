package fingerprint

import (
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/elmscope/elmscope/pkg/packet"
)

var elmVersionRe = regexp.MustCompile(`(?i)ELM327\s+v(\d+(?:\.\d+){0,2})`)

// ParseFirmware extracts the advertised ELM327 firmware version from an
// identification response such as "ELM327 v1.5".
func ParseFirmware(response string) (*semver.Version, bool) {
	m := elmVersionRe.FindStringSubmatch(response)
	if len(m) < 2 {
		return nil, false
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return nil, false
	}
	return v, true
}

// firmwareFromExchanges picks the highest advertised version. Equal versions
// spelled differently ("1.5", "1.5.0") are ordered by their spelling, so the
// result does not depend on exchange order.
func firmwareFromExchanges(exchanges []packet.Exchange) string {
	var versions []*semver.Version
	for _, e := range exchanges {
		if v, ok := ParseFirmware(e.ResponseText()); ok {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return ""
	}
	return slices.MaxFunc(versions, compareFirmware).Original()
}

// SatisfiesFirmware reports whether the advertised version in response meets
// a semver constraint such as ">= 1.5".
func SatisfiesFirmware(response, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	v, ok := ParseFirmware(response)
	if !ok {
		return false, nil
	}
	return c.Check(v), nil
}

func compareFirmware(a, b *semver.Version) int {
	if c := a.Compare(b); c != 0 {
		return c
	}
	return strings.Compare(a.Original(), b.Original())
}
