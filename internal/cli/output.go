// Package cli provides the command-line interface for the backtester.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
)

// ANSI escapes used for console output.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiWhite  = "\033[37m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Output writes command results to the command's stdout, either as
// human-readable text with optional color or as JSON.
type Output struct {
	w        io.Writer
	jsonMode bool
	color    bool
}

// NewOutput builds an Output honoring the command's --json flag. Color
// is enabled only for a terminal in text mode.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	stat, _ := os.Stdout.Stat()
	isTTY := stat != nil && stat.Mode()&os.ModeCharDevice != 0
	return &Output{
		w:        cmd.OutOrStdout(),
		jsonMode: jsonMode,
		color:    !jsonMode && isTTY,
	}
}

// IsJSON reports whether JSON output mode is enabled.
func (o *Output) IsJSON() bool { return o.jsonMode }

// JSON writes v as indented JSON.
func (o *Output) JSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *Output) Println(args ...any) {
	fmt.Fprintln(o.w, args...)
}

func (o *Output) Printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}

// paint wraps s in an ANSI code when color is enabled.
func (o *Output) paint(code, s string) string {
	if !o.color {
		return s
	}
	return code + s + ansiReset
}

func (o *Output) line(code, format string, args ...any) {
	fmt.Fprintln(o.w, o.paint(code, fmt.Sprintf(format, args...)))
}

// Success prints a green message.
func (o *Output) Success(format string, args ...any) {
	o.line(ansiGreen, format, args...)
}

// Warning prints a yellow message.
func (o *Output) Warning(format string, args ...any) {
	o.line(ansiYellow, format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...any) {
	o.line(ansiDim, format, args...)
}

// FormatPnL renders a signed P&L amount, green for gains and red for
// losses.
func (o *Output) FormatPnL(pnl float64) string {
	s := FormatUSD(pnl)
	switch {
	case pnl > 0:
		return o.paint(ansiGreen, "+"+s)
	case pnl < 0:
		return o.paint(ansiRed, s)
	default:
		return o.paint(ansiWhite, s)
	}
}

// Table accumulates rows and renders them as an aligned ASCII table.
type Table struct {
	out     *Output
	headers []string
	rows    [][]string
}

func NewTable(out *Output, headers ...string) *Table {
	return &Table{out: out, headers: headers}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render prints the header, a separator, and every row, padding each
// column to its widest cell. ANSI codes are excluded from width math.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	measure := func(cells []string) {
		for i, c := range cells {
			if i >= len(widths) {
				break
			}
			if w := visibleLen(c); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	t.printCells(t.headers, widths, ansiBold)

	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("─", w)
	}
	t.out.Println(t.out.paint(ansiDim, strings.Join(sep, "──")))

	for _, row := range t.rows {
		t.printCells(row, widths, "")
	}
}

func (t *Table) printCells(cells []string, widths []int, code string) {
	parts := make([]string, 0, len(cells))
	for i, c := range cells {
		if i >= len(widths) {
			break
		}
		padded := c + strings.Repeat(" ", widths[i]-visibleLen(c))
		if code != "" {
			padded = t.out.paint(code, padded)
		}
		parts = append(parts, padded)
	}
	t.out.Println(strings.Join(parts, "  "))
}

// visibleLen is the printed width of a cell, ignoring ANSI escapes.
func visibleLen(s string) int {
	return len(ansiPattern.ReplaceAllString(s, ""))
}
