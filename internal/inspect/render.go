package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by Render
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// Render writes the report to w in the requested format
func Render(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatText, "":
		_, err := io.WriteString(w, renderText(r))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (must be text, json, or yaml)", format)
	}
}

func renderText(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", headerStyle.Render("framework:"), r.FrameworkRoot)
	fmt.Fprintf(&b, "%s %s\n", headerStyle.Render("baseline: "), r.BaselinePath)

	if r.InSync() {
		fmt.Fprintf(&b, "%s\n", okStyle.Render(fmt.Sprintf("in sync: %d directories ignored", len(r.Ignored))))
	} else {
		fmt.Fprintf(&b, "%s\n", errStyle.Render("out of sync"))
	}

	section(&b, "ignored", r.Ignored, dimStyle)
	section(&b, "missing marker", r.Missing, errStyle)
	section(&b, "duplicate markers", r.Duplicates, errStyle)
	section(&b, "not in baseline", r.Unmanaged, warnStyle)

	return b.String()
}

func section(b *strings.Builder, title string, items []string, style lipgloss.Style) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", headerStyle.Render(fmt.Sprintf("%s (%d)", title, len(items))))
	for _, item := range items {
		fmt.Fprintf(b, "  %s\n", style.Render(item))
	}
}
