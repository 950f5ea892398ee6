package fingerprint

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Comparison describes how two fingerprints differ.
type Comparison struct {
	Device1          string   `json:"device_1"`
	Device2          string   `json:"device_2"`
	ResponseTimeDiff float64  `json:"response_time_diff"`
	VocabularyMatch  bool     `json:"vocabulary_match"`
	UniqueTo1        []string `json:"unique_to_1"`
	UniqueTo2        []string `json:"unique_to_2"`
	Common           []string `json:"common"`
	FirmwareMatch    bool     `json:"firmware_match"`
}

// Registry is the known set of fingerprints for a run.
type Registry struct {
	mu  sync.RWMutex
	fps map[string]Fingerprint
}

// NewRegistry builds a registry seeded with fps.
func NewRegistry(fps ...Fingerprint) *Registry {
	r := &Registry{fps: make(map[string]Fingerprint, len(fps))}
	for _, fp := range fps {
		r.fps[fp.DeviceID] = fp
	}
	return r
}

// Put stores or replaces a fingerprint.
func (r *Registry) Put(fp Fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fps[fp.DeviceID] = fp
}

// Get looks a fingerprint up by device id.
func (r *Registry) Get(id string) (Fingerprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fp, ok := r.fps[id]
	if !ok {
		return Fingerprint{}, NewUnknownDeviceError(id)
	}
	return fp, nil
}

// IDs returns the known device ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.fps))
	for id := range r.fps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns the fingerprints keyed by device id.
func (r *Registry) All() map[string]Fingerprint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Fingerprint, len(r.fps))
	for id, fp := range r.fps {
		out[id] = fp
	}
	return out
}

// Compare diffs two known fingerprints. It fails with ErrUnknownDevice when
// either id is absent.
func (r *Registry) Compare(id1, id2 string) (Comparison, error) {
	fp1, err := r.Get(id1)
	if err != nil {
		return Comparison{}, err
	}
	fp2, err := r.Get(id2)
	if err != nil {
		return Comparison{}, err
	}
	return Compare(fp1, fp2), nil
}

// Compare diffs two fingerprints. It has no side effects.
func Compare(fp1, fp2 Fingerprint) Comparison {
	set1 := toSet(fp1.CommandVocabulary)
	set2 := toSet(fp2.CommandVocabulary)

	cmp := Comparison{
		Device1:          fp1.DeviceID,
		Device2:          fp2.DeviceID,
		ResponseTimeDiff: math.Abs(fp1.AvgResponseTimeMs - fp2.AvgResponseTimeMs),
		UniqueTo1:        []string{},
		UniqueTo2:        []string{},
		Common:           []string{},
		FirmwareMatch:    fp1.FirmwareVersion == fp2.FirmwareVersion,
	}
	for cmd := range set1 {
		if _, ok := set2[cmd]; ok {
			cmp.Common = append(cmp.Common, cmd)
		} else {
			cmp.UniqueTo1 = append(cmp.UniqueTo1, cmd)
		}
	}
	for cmd := range set2 {
		if _, ok := set1[cmd]; !ok {
			cmp.UniqueTo2 = append(cmp.UniqueTo2, cmd)
		}
	}
	sort.Strings(cmp.Common)
	sort.Strings(cmp.UniqueTo1)
	sort.Strings(cmp.UniqueTo2)
	cmp.VocabularyMatch = len(cmp.UniqueTo1) == 0 && len(cmp.UniqueTo2) == 0
	return cmp
}

func toSet(xs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		set[x] = struct{}{}
	}
	return set
}

// String renders a one-line summary.
func (c Comparison) String() string {
	return fmt.Sprintf("%s vs %s: Δt=%.2fms common=%d unique=%d/%d",
		c.Device1, c.Device2, c.ResponseTimeDiff, len(c.Common), len(c.UniqueTo1), len(c.UniqueTo2))
}
