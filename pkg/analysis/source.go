package analysis

import (
	"path/filepath"
	"strings"

	"github.com/elmscope/elmscope/pkg/capture"
	"github.com/elmscope/elmscope/pkg/trafficlog"
)

// Capture formats accepted by OpenSource.
const (
	FormatAuto       = "auto"
	FormatWireshark  = "wireshark"
	FormatPCAP       = "pcap"
	FormatTrafficLog = "trafficlog"
)

// Formats lists the concrete formats.
var Formats = []string{FormatWireshark, FormatPCAP, FormatTrafficLog}

// SourceOptions tunes format-specific readers.
type SourceOptions struct {
	// Port is the adapter TCP port for pcap captures.
	Port uint16
	// Session limits a traffic log to one session.
	Session string
}

// DetectFormat guesses the format from the file extension.
func DetectFormat(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatWireshark, true
	case ".pcap", ".pcapng", ".cap":
		return FormatPCAP, true
	case ".jsonl", ".ndjson":
		return FormatTrafficLog, true
	default:
		return "", false
	}
}

// OpenSource returns the capture.Source for path. An empty or "auto" format
// is detected from the extension.
func OpenSource(format, path string, opts SourceOptions) (capture.Source, error) {
	if format == "" || format == FormatAuto {
		detected, ok := DetectFormat(path)
		if !ok {
			return nil, capture.NewUnsupportedFormatError(filepath.Ext(path))
		}
		format = detected
	}
	switch format {
	case FormatWireshark:
		return capture.WiresharkJSON{Path: path}, nil
	case FormatPCAP:
		return capture.PCAP{Path: path, Port: opts.Port}, nil
	case FormatTrafficLog:
		return trafficlog.Reader{Path: path, Session: opts.Session}, nil
	default:
		return nil, capture.NewUnsupportedFormatError(format)
	}
}
