package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"czdsfetch/internal"
	"czdsfetch/utils"
)

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	summaryMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	summaryOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	summaryWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	summaryErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	summaryPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// writeReport saves the report as YAML or JSON, chosen by the file extension
func writeReport(path string, report *internal.BatchReport) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(report)
	case ".json":
		data, err = json.MarshalIndent(report, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported report format %q (use .yaml, .yml or .json)", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// printSummary renders a short per-run panel followed by one line per failed item
func printSummary(w io.Writer, report *internal.BatchReport) {
	succeeded := report.Count(internal.StatusSuccess)
	notFound := report.Count(internal.StatusNotFound)
	failed := report.Failed()

	title := fmt.Sprintf("czdsfetch %s", report.Mode)
	if report.Cancelled {
		title += " (interrupted)"
	}

	lines := []string{
		summaryTitleStyle.Render(title),
		summaryMutedStyle.Render("run " + report.RunID),
		summaryOKStyle.Render(fmt.Sprintf("%d succeeded", succeeded)),
	}
	if notFound > 0 {
		lines = append(lines, summaryWarnStyle.Render(fmt.Sprintf("%d not found", notFound)))
	}
	if failed > 0 {
		lines = append(lines, summaryErrorStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	if report.Mode == internal.ModeDownload {
		lines = append(lines, fmt.Sprintf("%s written", utils.FormatBytes(report.BytesWritten())))
	}
	elapsed := report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)
	lines = append(lines, summaryMutedStyle.Render(fmt.Sprintf("took %v", elapsed)))

	fmt.Fprintln(w, summaryPanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))

	for _, o := range report.Outcomes {
		if o.Status.IsFailure() {
			fmt.Fprintf(w, "%s %s: %s\n", summaryErrorStyle.Render("✗"), o.Item.ID, o.Error)
		}
	}
}
