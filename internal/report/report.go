// Package report renders run results for the terminal and for
// machine-readable output formats.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/llamasoft/gorace/internal/stats"
	"github.com/llamasoft/gorace/internal/types"
	"github.com/llamasoft/gorace/internal/worker"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
)

// RenderSummary prints the per-position spread table and the run
// totals.
func RenderSummary(w io.Writer, results []worker.Result, summary *stats.Summary) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Race summary — %d workers", summary.WorkerCount)))

	for _, ps := range summary.Positions {
		line := fmt.Sprintf("  position %d: release spread %s, first-byte spread %s",
			ps.Position, formatSpread(ps.Spread), formatSpread(ps.FirstByteSpread))
		fmt.Fprintln(w, line)

		var counts []string
		for status, n := range ps.StatusCounts {
			counts = append(counts, fmt.Sprintf("%dx %d", n, status))
		}
		for kind, n := range ps.ErrorCounts {
			counts = append(counts, failStyle.Render(fmt.Sprintf("%dx %s", n, kind)))
		}
		if len(counts) > 0 {
			fmt.Fprintln(w, dimStyle.Render("    "+strings.Join(counts, ", ")))
		}
	}

	fmt.Fprintf(w, "  %s / %s\n",
		okStyle.Render(fmt.Sprintf("%d ok", summary.SuccessCount)),
		failStyle.Render(fmt.Sprintf("%d failed", summary.ErrorCount)))

	if summary.SuccessCount > 0 {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf(
			"  latency ms: min %d, avg %.1f, p95 %d, max %d",
			summary.Min(), summary.AvgDurationMs(), summary.P95(), summary.Max())))
	}
}

// RenderResponses prints each worker's per-position outcomes.
// Verbose mode includes response bodies with syntax highlighting.
func RenderResponses(w io.Writer, results []worker.Result, verbose bool) {
	for _, res := range results {
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("worker %d", res.ThreadNum)))

		for _, resp := range res.Responses {
			label := fmt.Sprintf("  [%d] %s %s", resp.Position, resp.Method, resp.URL)
			if resp.Err != nil {
				fmt.Fprintf(w, "%s %s\n", label, failStyle.Render(resp.Err.Error()))
				continue
			}

			status := okStyle
			if resp.StatusCode >= 400 {
				status = failStyle
			}
			fmt.Fprintf(w, "%s %s %s\n",
				label,
				status.Render(fmt.Sprintf("%d", resp.StatusCode)),
				dimStyle.Render(fmt.Sprintf("(%d bytes from %s)", len(resp.Body), resp.RemoteAddr)))

			if verbose && len(resp.Body) > 0 {
				renderBody(w, resp.Body, resp.Headers.Get("Content-Type"))
			}
		}

		if res.Err != nil {
			fmt.Fprintln(w, failStyle.Render("  aborted: "+res.Err.Error()))
		}
	}
}

// renderBody syntax-highlights JSON bodies; anything else prints raw.
func renderBody(w io.Writer, body []byte, contentType string) {
	indented := indent(string(body), "    ")
	if strings.Contains(contentType, "json") {
		if err := quick.Highlight(w, indented+"\n", "json", "terminal256", "monokai"); err == nil {
			return
		}
	}
	fmt.Fprintln(w, indented)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func formatSpread(d time.Duration) string {
	if d == 0 {
		return "n/a"
	}
	return d.Round(time.Microsecond).String()
}

// resultView is the serializable shape of one response record.
type resultView struct {
	Worker     int               `json:"worker" yaml:"worker"`
	Position   int               `json:"position" yaml:"position"`
	Method     string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL        string            `json:"url,omitempty" yaml:"url,omitempty"`
	Status     int               `json:"status,omitempty" yaml:"status,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty" yaml:"remote_addr,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       string            `json:"body,omitempty" yaml:"body,omitempty"`
	Timing     timingView        `json:"timing" yaml:"timing"`
}

type timingView struct {
	Connect   string `json:"connect,omitempty" yaml:"connect,omitempty"`
	Ready     string `json:"ready,omitempty" yaml:"ready,omitempty"`
	Release   string `json:"release,omitempty" yaml:"release,omitempty"`
	FirstByte string `json:"first_byte,omitempty" yaml:"first_byte,omitempty"`
}

func buildViews(results []worker.Result) []resultView {
	var views []resultView
	for _, res := range results {
		for _, resp := range res.Responses {
			views = append(views, viewFromResponse(resp))
		}
	}
	return views
}

func viewFromResponse(resp *types.Response) resultView {
	view := resultView{
		Worker:     resp.ThreadNum,
		Position:   resp.Position,
		Method:     resp.Method,
		URL:        resp.URL,
		Status:     resp.StatusCode,
		RemoteAddr: resp.RemoteAddr,
		Body:       string(resp.Body),
		Timing: timingView{
			Connect:   formatMark(resp.Timing.Connect),
			Ready:     formatMark(resp.Timing.Ready),
			Release:   formatMark(resp.Timing.Release),
			FirstByte: formatMark(resp.Timing.FirstByte),
		},
	}
	if resp.Err != nil {
		view.Error = resp.Err.Error()
		view.ErrorKind = string(resp.Err.Kind)
	}
	if len(resp.Headers) > 0 {
		view.Headers = make(map[string]string, len(resp.Headers))
		for _, h := range resp.Headers {
			view.Headers[h.Name] = h.Value
		}
	}
	return view
}

func formatMark(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// RenderJSON writes the results as indented JSON.
func RenderJSON(w io.Writer, results []worker.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildViews(results))
}

// RenderYAML writes the results as YAML.
func RenderYAML(w io.Writer, results []worker.Result) error {
	return yaml.NewEncoder(w).Encode(buildViews(results))
}
