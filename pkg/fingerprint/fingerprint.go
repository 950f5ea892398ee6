// Package fingerprint derives behavioural fingerprints of ELM327 adapters from
// their command exchanges and compares them.
package fingerprint

import (
	"math"
	"sort"

	"github.com/elmscope/elmscope/pkg/packet"
)

// Fingerprint is a statistical summary of a device's protocol behaviour. It is
// always rebuilt from the full exchange history, never patched in place.
type Fingerprint struct {
	DeviceID               string   `json:"device_id"`
	AvgResponseTimeMs      float64  `json:"avg_response_time_ms"`
	ResponseTimeVarianceMs float64  `json:"response_time_variance_ms"`
	CommandVocabulary      []string `json:"command_vocabulary"`
	ErrorRate              float64  `json:"error_rate"`
	ServiceCharacteristics []string `json:"service_characteristics"`
	FirmwareVersion        string   `json:"firmware_version,omitempty"`
	ExchangeCount          int      `json:"exchange_count"`
}

// BuildOption adds context that does not come from the exchanges themselves.
type BuildOption func(*Fingerprint)

// WithCharacteristics records the service characteristics (GATT UUIDs, RFCOMM
// channels) the device was observed on, in first-seen order.
func WithCharacteristics(ids []string) BuildOption {
	return func(fp *Fingerprint) {
		fp.ServiceCharacteristics = append([]string(nil), ids...)
	}
}

// Build aggregates exchanges into a Fingerprint. It is a pure function: any
// permutation of the same exchanges yields an identical result.
func Build(deviceID string, exchanges []packet.Exchange, opts ...BuildOption) Fingerprint {
	fp := Fingerprint{
		DeviceID:               deviceID,
		CommandVocabulary:      []string{},
		ServiceCharacteristics: []string{},
		ExchangeCount:          len(exchanges),
	}

	latencies := make([]float64, 0, len(exchanges))
	vocab := make(map[string]struct{})
	errorsSeen := 0
	for _, e := range exchanges {
		vocab[e.Command] = struct{}{}
		if lat, ok := e.Latency(); ok {
			latencies = append(latencies, lat)
		}
		if e.IsError() {
			errorsSeen++
		}
	}

	fp.AvgResponseTimeMs, fp.ResponseTimeVarianceMs = meanVariance(latencies)
	if len(exchanges) > 0 {
		fp.ErrorRate = float64(errorsSeen) / float64(len(exchanges))
	}
	for cmd := range vocab {
		fp.CommandVocabulary = append(fp.CommandVocabulary, cmd)
	}
	sort.Strings(fp.CommandVocabulary)
	fp.FirmwareVersion = firmwareFromExchanges(exchanges)

	for _, opt := range opts {
		opt(&fp)
	}
	return fp
}

// meanVariance returns the mean and population variance. Values are sorted
// first so floating point summation order does not depend on input order.
func meanVariance(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	sq := 0.0
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	variance := sq / float64(len(sorted))
	if math.IsNaN(variance) {
		variance = 0
	}
	return mean, variance
}

// HasCommand reports whether cmd is part of the vocabulary.
func (fp Fingerprint) HasCommand(cmd string) bool {
	i := sort.SearchStrings(fp.CommandVocabulary, cmd)
	return i < len(fp.CommandVocabulary) && fp.CommandVocabulary[i] == cmd
}
