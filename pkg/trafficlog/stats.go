package trafficlog

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/elmscope/elmscope/pkg/capture"
	"github.com/elmscope/elmscope/pkg/packet"
)

// StatsFilter narrows which records Analyze considers.
type StatsFilter struct {
	Session string
	Since   *time.Time
	Until   *time.Time
	TopN    int
}

// SessionStats counts records per session.
type SessionStats struct {
	Records int `json:"records"`
	TX      int `json:"tx"`
	RX      int `json:"rx"`
	Errors  int `json:"errors"`
}

// CommandCount is one row of the top-commands table.
type CommandCount struct {
	Command string `json:"command"`
	Count   int    `json:"count"`
}

// Stats aggregates a traffic log.
type Stats struct {
	TotalRecords int                     `json:"total_records"`
	Malformed    int                     `json:"malformed"`
	TX           int                     `json:"tx"`
	RX           int                     `json:"rx"`
	Errors       int                     `json:"errors"`
	Unknown      int                     `json:"unknown"`
	ErrorRate    float64                 `json:"error_rate"`
	StartTime    time.Time               `json:"start_time"`
	EndTime      time.Time               `json:"end_time"`
	Sessions     map[string]SessionStats `json:"sessions"`
	TopCommands  []CommandCount          `json:"top_commands"`
}

func unixFloat(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Analyze reads the log at path and aggregates it.
func Analyze(ctx context.Context, path string, filter *StatsFilter) (*Stats, error) {
	if filter == nil {
		filter = &StatsFilter{}
	}
	topN := filter.TopN
	if topN <= 0 {
		topN = 10
	}

	stats := &Stats{Sessions: make(map[string]SessionStats)}
	commands := make(map[string]int)

	r := Reader{Path: path, Session: filter.Session}
	for rec, err := range r.Records(ctx) {
		if err != nil {
			if capture.IsMalformed(err) {
				stats.Malformed++
				continue
			}
			return nil, err
		}

		at := unixFloat(rec.Timestamp)
		if filter.Since != nil && at.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && at.After(*filter.Until) {
			continue
		}

		stats.TotalRecords++
		if stats.StartTime.IsZero() || at.Before(stats.StartTime) {
			stats.StartTime = at
		}
		if at.After(stats.EndTime) {
			stats.EndTime = at
		}

		ss := stats.Sessions[rec.Session]
		ss.Records++
		switch rec.Direction {
		case DirectionTX:
			stats.TX++
			ss.TX++
			if cmd := packet.TrimControl(rec.Text); cmd != "" {
				commands[cmd]++
			}
		case DirectionRX:
			stats.RX++
			ss.RX++
			switch packet.NormalizeResponse(rec.Text) {
			case packet.SentinelError:
				stats.Errors++
				ss.Errors++
			case packet.Unknown:
				stats.Unknown++
			}
		}
		stats.Sessions[rec.Session] = ss
	}

	if stats.RX > 0 {
		stats.ErrorRate = float64(stats.Errors) / float64(stats.RX)
	}
	stats.TopCommands = topCommands(commands, topN)
	return stats, nil
}

func topCommands(counts map[string]int, n int) []CommandCount {
	out := make([]CommandCount, 0, len(counts))
	for cmd, c := range counts {
		out = append(out, CommandCount{Command: cmd, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Command < out[j].Command
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
