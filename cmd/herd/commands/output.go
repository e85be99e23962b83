package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

// colorScheme provides color functions for output elements.
type colorScheme struct {
	Host    func(format string, a ...interface{}) string
	Success func(format string, a ...interface{}) string
	Changed func(format string, a ...interface{}) string
	Error   func(format string, a ...interface{}) string
	Header  func(format string, a ...interface{}) string
	Dim     func(format string, a ...interface{}) string
}

// newColorScheme disables colors for non-TTY writers or when noColor is set.
func newColorScheme(w io.Writer, noColor bool) *colorScheme {
	if noColor || !isTTY(w) {
		plain := color.New()
		plain.DisableColor()
		return &colorScheme{
			Host:    plain.Sprintf,
			Success: plain.Sprintf,
			Changed: plain.Sprintf,
			Error:   plain.Sprintf,
			Header:  plain.Sprintf,
			Dim:     plain.Sprintf,
		}
	}

	return &colorScheme{
		Host:    color.New(color.FgCyan, color.Bold).Sprintf,
		Success: color.New(color.FgGreen).Sprintf,
		Changed: color.New(color.FgYellow).Sprintf,
		Error:   color.New(color.FgRed, color.Bold).Sprintf,
		Header:  color.New(color.FgWhite, color.Bold).Sprintf,
		Dim:     color.New(color.Faint).Sprintf,
	}
}

func isTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// newTable returns a borderless, left-aligned table.
func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// oneLine collapses s to its first line, marking truncation.
func oneLine(s string, limit int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if limit > 0 && len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

func valueOrDash(v any, ok bool) string {
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}
