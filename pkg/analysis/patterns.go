package analysis

import (
	"sort"
	"strings"

	"github.com/elmscope/elmscope/pkg/packet"
)

// MessagePatterns counts payloads by length, then by their first two bytes
// in upper-case hex.
type MessagePatterns map[int]map[string]int

// PatternCount is one prefix and how often it occurred.
type PatternCount struct {
	Prefix string
	Count  int
}

// BuildMessagePatterns histograms every payload of at least two bytes.
func BuildMessagePatterns(packets []packet.Packet) MessagePatterns {
	mp := make(MessagePatterns)
	for _, p := range packets {
		if p.Length < 2 {
			continue
		}
		prefix := strings.ToUpper(p.PayloadHex()[:4])
		n := int(p.Length)
		if mp[n] == nil {
			mp[n] = make(map[string]int)
		}
		mp[n][prefix]++
	}
	return mp
}

// Lengths returns the payload lengths seen, ascending.
func (mp MessagePatterns) Lengths() []int {
	out := make([]int, 0, len(mp))
	for n := range mp {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Top returns the prefixes for one length, most frequent first.
func (mp MessagePatterns) Top(length int) []PatternCount {
	out := make([]PatternCount, 0, len(mp[length]))
	for prefix, c := range mp[length] {
		out = append(out, PatternCount{Prefix: prefix, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Prefix < out[j].Prefix
	})
	return out
}
