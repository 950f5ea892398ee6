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

package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/elmscope/elmscope/pkg/analysis"
	"github.com/elmscope/elmscope/pkg/heuristics"
	"github.com/elmscope/elmscope/pkg/probe"
	"github.com/elmscope/elmscope/pkg/scoring"
)

// maxPatternPrefixes caps the prefixes listed per payload length.
const maxPatternPrefixes = 5

// styles are bound to a renderer for the destination writer, so files and
// pipes get plain text and terminals get colour.
type styles struct {
	title   lipgloss.Style
	section lipgloss.Style
	subtle  lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("170")),
		section: r.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		subtle:  r.NewStyle().Foreground(lipgloss.Color("240")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		bad:     r.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
}

func (s styles) severity(sev heuristics.Severity) lipgloss.Style {
	switch sev {
	case heuristics.SeverityHigh:
		return s.bad
	case heuristics.SeverityMedium:
		return s.warn
	default:
		return s.subtle
	}
}

// textWriter accumulates the first write error so renderers stay linear.
type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

func (t *textWriter) println(s string) {
	t.printf("%s\n", s)
}

func (t *textWriter) table(rows [][]string) {
	if t.err != nil || len(rows) == 0 {
		return
	}
	tw := tabwriter.NewWriter(t.w, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, "  "+strings.Join(row, "\t")); err != nil {
			t.err = err
			return
		}
	}
	t.err = tw.Flush()
}

// RenderAnalysis writes a human-readable analysis report.
func RenderAnalysis(w io.Writer, rep *analysis.Report) error {
	st := newStyles(w)
	t := &textWriter{w: w}

	t.println(st.title.Render("ELM327 Traffic Analysis"))
	t.println(st.subtle.Render(fmt.Sprintf("source %s  analysed %s  id %s",
		rep.Source, rep.AnalysisDate.Format("2006-01-02 15:04:05 MST"), rep.ID)))
	t.println("")

	agg := rep.AggregateStatistics
	t.table([][]string{
		{"Packets", fmt.Sprint(rep.PacketCount)},
		{"Commands", fmt.Sprint(rep.CommandCount)},
		{"Unique commands", fmt.Sprint(agg.UniqueCommandCount)},
		{"Avg response time", fmt.Sprintf("%.2fms", agg.AvgResponseTime)},
		{"Error rate", fmt.Sprintf("%.1f%%", agg.ErrorRate*100)},
	})

	t.println("")
	t.println(st.section.Render("Devices"))
	if len(rep.Fingerprints) == 0 {
		t.println(st.subtle.Render("  none"))
	} else {
		rows := [][]string{{"DEVICE", "EXCHANGES", "AVG", "VARIANCE", "ERRORS", "FIRMWARE", "COMMANDS"}}
		for _, id := range rep.Registry().IDs() {
			fp := rep.Fingerprints[id]
			fw := fp.FirmwareVersion
			if fw == "" {
				fw = "-"
			}
			rows = append(rows, []string{
				id,
				fmt.Sprint(fp.ExchangeCount),
				fmt.Sprintf("%.2fms", fp.AvgResponseTimeMs),
				fmt.Sprintf("%.2f", fp.ResponseTimeVarianceMs),
				fmt.Sprintf("%.1f%%", fp.ErrorRate*100),
				fw,
				strings.Join(fp.CommandVocabulary, " "),
			})
		}
		t.table(rows)
	}

	t.println("")
	t.println(st.section.Render("Security findings"))
	if len(rep.SecurityFindings) == 0 {
		t.println(st.ok.Render("  none detected"))
	}
	for _, f := range rep.SecurityFindings {
		t.printf("  %s %s: %s\n", st.severity(f.Severity).Render("["+string(f.Severity)+"]"), f.Kind, f.Description)
	}

	t.println("")
	t.println(st.section.Render("Recommendations"))
	for i, r := range rep.Recommendations {
		t.printf("  %d. %s\n", i+1, r)
	}

	if lengths := rep.MessagePatterns.Lengths(); len(lengths) > 0 {
		t.println("")
		t.println(st.section.Render("Message patterns"))
		rows := make([][]string, 0, len(lengths))
		for _, n := range lengths {
			top := rep.MessagePatterns.Top(n)
			if len(top) > maxPatternPrefixes {
				top = top[:maxPatternPrefixes]
			}
			parts := make([]string, 0, len(top))
			for _, pc := range top {
				parts = append(parts, fmt.Sprintf("%s×%d", pc.Prefix, pc.Count))
			}
			rows = append(rows, []string{fmt.Sprintf("%d bytes", n), strings.Join(parts, " ")})
		}
		t.table(rows)
	}

	if len(rep.Comparisons) > 0 {
		t.println("")
		t.println(st.section.Render("Comparisons"))
		for _, c := range rep.Comparisons {
			t.println("  " + c.String())
		}
	}

	d := rep.Diagnostics
	if d.MalformedPackets+d.CausalityViolations+d.UnsolicitedResponses+d.UnansweredCommands > 0 || len(d.CompareErrors) > 0 {
		t.println("")
		t.println(st.section.Render("Diagnostics"))
		t.table([][]string{
			{"Malformed packets", fmt.Sprint(d.MalformedPackets)},
			{"Causality violations", fmt.Sprint(d.CausalityViolations)},
			{"Unsolicited responses", fmt.Sprint(d.UnsolicitedResponses)},
			{"Unanswered commands", fmt.Sprint(d.UnansweredCommands)},
		})
		for _, e := range d.CompareErrors {
			t.println("  " + st.warn.Render(e))
		}
	}
	return t.err
}

// RenderCompatibility writes one block per target.
func RenderCompatibility(w io.Writer, reps []scoring.CompatibilityReport) error {
	st := newStyles(w)
	t := &textWriter{w: w}

	t.println(st.title.Render("ELM327 Compatibility"))
	for _, rep := range reps {
		t.println("")
		verdict := st.bad.Render("NOT READY")
		if rep.Ready {
			verdict = st.ok.Render("READY")
		}
		t.printf("%s  %s  overall %.2f / %.2f\n",
			st.section.Render(rep.TargetID), verdict, rep.OverallScore, rep.PassThreshold)

		rows := make([][]string, 0, len(probe.Categories))
		for _, c := range probe.Categories {
			row := []string{string(c), fmt.Sprintf("%.2f", rep.CategoryScores[c])}
			if c == probe.CategoryTiming {
				row = append(row, st.subtle.Render(fmt.Sprintf("mean %.1fms", rep.TimingMeanMs)))
			}
			rows = append(rows, row)
		}
		t.table(rows)

		var failed [][]string
		for _, r := range rep.Details {
			if r.Passed {
				continue
			}
			reason := r.Reason
			if r.Error != "" {
				reason = r.Error
			}
			failed = append(failed, []string{r.Suite, r.Command, r.Expected, st.warn.Render(reason)})
		}
		if len(failed) > 0 {
			t.println(st.subtle.Render("  failed steps"))
			t.table(failed)
		}
	}
	return t.err
}
