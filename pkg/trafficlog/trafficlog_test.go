package trafficlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmscope/elmscope/pkg/capture"
	"github.com/elmscope/elmscope/pkg/packet"
)

func TestWriter_Disabled(t *testing.T) {
	w, err := NewWriter("")
	require.NoError(t, err)
	assert.False(t, w.IsEnabled())
	assert.NoError(t, w.Write(Record{}))
	assert.NoError(t, w.Close())
	assert.Zero(t, w.Written())

	var nilWriter *Writer
	assert.NoError(t, nilWriter.Write(Record{}))
	assert.False(t, nilWriter.IsEnabled())
}

func TestWriter_ConcurrentAppendsStayWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)

	const sessions, perSession = 8, 50
	var wg sync.WaitGroup
	for s := 0; s < sessions; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", s)
			for i := 0; i < perSession; i++ {
				p := packet.New(float64(i), "host", id, packet.KindData, []byte("ATI\r"))
				assert.NoError(t, w.WritePacket(id, DirectionTX, p))
			}
		}(s)
	}
	wg.Wait()
	assert.Equal(t, sessions*perSession, w.Written())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.Write(Record{}), "write after close")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines++
	}
	assert.Equal(t, sessions*perSession, lines)
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traffic.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func rec(t *testing.T, session, dir string, ts float64, src, dst, text string) string {
	t.Helper()
	r := FromPacket(session, dir, packet.New(ts, src, dst, packet.KindData, []byte(text)))
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return string(b)
}

func TestReader_RoundTrip(t *testing.T) {
	path := writeLog(t,
		rec(t, "a", DirectionTX, 1, "host", "obd", "ATZ\r"),
		"{not json",
		rec(t, "a", DirectionRX, 1.05, "obd", "host", "ELM327 v1.5\r\r>"),
		"",
		rec(t, "b", DirectionTX, 2, "host", "obd2", "ATI\r"),
		`{"timestamp":3,"source":"x","destination":"y","data_hex":"zz"}`,
	)

	pkts, counts, err := capture.Collect(context.Background(), Reader{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Packets)
	assert.Equal(t, 2, counts.Malformed)
	assert.Equal(t, "ATZ", pkts[0].Text())
	assert.Equal(t, "ELM327 v1.5\r\r>", string(pkts[1].Payload()))
	assert.Equal(t, packet.KindData, pkts[1].Kind)

	onlyB, _, err := capture.Collect(context.Background(), Reader{Path: path, Session: "b"})
	require.NoError(t, err)
	require.Len(t, onlyB, 1)
	assert.Equal(t, "obd2", onlyB[0].Destination)
}

func TestReader_Missing(t *testing.T) {
	_, _, err := capture.Collect(context.Background(), Reader{Path: filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, err, capture.ErrOpen)
}

func TestAnalyze(t *testing.T) {
	path := writeLog(t,
		rec(t, "a", DirectionTX, 100, "host", "obd", "ATZ\r"),
		rec(t, "a", DirectionRX, 100.1, "obd", "host", "ELM327 v1.5\r>"),
		rec(t, "a", DirectionTX, 101, "host", "obd", "ATXYZ\r"),
		rec(t, "a", DirectionRX, 101.1, "obd", "host", "?\r>"),
		rec(t, "b", DirectionTX, 102, "host", "obd", "ATZ\r"),
		rec(t, "b", DirectionRX, 102.1, "obd", "host", "ERROR\r>"),
		"garbage",
	)

	stats, err := Analyze(context.Background(), path, &StatsFilter{TopN: 1})
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalRecords)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 3, stats.TX)
	assert.Equal(t, 3, stats.RX)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Unknown)
	assert.InDelta(t, 1.0/3.0, stats.ErrorRate, 1e-9)
	assert.Equal(t, []CommandCount{{Command: "ATZ", Count: 2}}, stats.TopCommands)
	assert.Equal(t, SessionStats{Records: 2, TX: 1, RX: 1, Errors: 1}, stats.Sessions["b"])
	assert.Equal(t, time.Unix(100, 0).UTC(), stats.StartTime)

	since := time.Unix(101, 500_000_000)
	filtered, err := Analyze(context.Background(), path, &StatsFilter{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.TotalRecords)

	onlyA, err := Analyze(context.Background(), path, &StatsFilter{Session: "a"})
	require.NoError(t, err)
	assert.Equal(t, 4, onlyA.TotalRecords)
	assert.Len(t, onlyA.Sessions, 1)

	_, err = Analyze(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}
