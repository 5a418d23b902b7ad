// Package output formats CLI command results for human terminals, JSON
// consumers, and CSV bulk-mode reports. Formatter selection and the
// human/json/csv split are adapted directly from the teacher's
// cmd/gasoline-cmd/output package.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// Result represents the outcome of a single CLI command invocation.
type Result struct {
	Success bool           `json:"success"`
	Command string         `json:"command"`
	Session string         `json:"session,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Writer is a minimal write interface matching io.Writer.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// Formatter renders a Result (or a slice of them, for bulk mode) to a Writer.
type Formatter interface {
	Format(w Writer, result *Result) error
	FormatMultiple(w Writer, results []*Result) error
}

// GetFormatter returns the formatter registered for the given format name,
// falling back to human-readable output for an unrecognized name.
func GetFormatter(format string) Formatter {
	switch format {
	case "json":
		return &JSONFormatter{}
	case "csv":
		return &CSVFormatter{}
	case "human":
		return &HumanFormatter{}
	default:
		return &HumanFormatter{}
	}
}

// HumanFormatter produces colored, readable terminal output.
type HumanFormatter struct{}

var (
	okTag    = color.New(color.FgGreen, color.Bold).SprintFunc()
	failTag  = color.New(color.FgRed, color.Bold).SprintFunc()
	errorTag = color.New(color.FgRed).SprintFunc()
)

func (h *HumanFormatter) Format(w Writer, result *Result) error {
	var sb strings.Builder
	if result.Success {
		sb.WriteString(fmt.Sprintf("%s %s", okTag("[OK]"), result.Command))
	} else {
		sb.WriteString(fmt.Sprintf("%s %s", failTag("[FAIL]"), result.Command))
	}
	if result.Session != "" {
		sb.WriteString(fmt.Sprintf(" (session %s)", result.Session))
	}
	sb.WriteString("\n")
	if result.Error != "" {
		sb.WriteString(fmt.Sprintf("   %s: %s\n", errorTag("error"), result.Error))
	}
	keys := make([]string, 0, len(result.Data))
	for k := range result.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("   %s: %v\n", k, result.Data[k]))
	}
	_, err := w.Write([]byte(sb.String()))
	return err
}

func (h *HumanFormatter) FormatMultiple(w Writer, results []*Result) error {
	for _, r := range results {
		if err := h.Format(w, r); err != nil {
			return err
		}
	}
	return nil
}

// JSONFormatter produces machine-parseable JSON output.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(w Writer, result *Result) error {
	out := map[string]any{
		"success": result.Success,
		"command": result.Command,
	}
	if result.Session != "" {
		out["session"] = result.Session
	}
	if result.Error != "" {
		out["error"] = result.Error
	}
	for k, v := range result.Data {
		out[k] = v
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func (f *JSONFormatter) FormatMultiple(w Writer, results []*Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// CSVFormatter produces CSV output for bulk session reports.
type CSVFormatter struct{}

func (f *CSVFormatter) Format(w Writer, result *Result) error {
	return f.FormatMultiple(w, []*Result{result})
}

func (f *CSVFormatter) FormatMultiple(w Writer, results []*Result) error {
	if len(results) == 0 {
		return nil
	}

	keySet := make(map[string]bool)
	for _, r := range results {
		for k := range r.Data {
			keySet[k] = true
		}
	}
	dataKeys := make([]string, 0, len(keySet))
	for k := range keySet {
		dataKeys = append(dataKeys, k)
	}
	sort.Strings(dataKeys)

	header := append([]string{"success", "command", "session", "error"}, dataKeys...)

	var sb strings.Builder
	cw := csv.NewWriter(&sb)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	for _, r := range results {
		row := []string{
			fmt.Sprintf("%t", r.Success),
			r.Command,
			r.Session,
			r.Error,
		}
		for _, k := range dataKeys {
			val := ""
			if v, ok := r.Data[k]; ok {
				val = fmt.Sprintf("%v", v)
			}
			row = append(row, val)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	_, err := io.WriteString(w.(io.Writer), sb.String())
	return err
}
