package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/openmined/cmissync/internal/client/sync"
	"gopkg.in/yaml.v3"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold   = lipgloss.NewStyle().Bold(true)
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q, use text, json or yaml", format)
	}
}

// writeStructured writes v as json or yaml and reports whether it did
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	}
	return false, nil
}

func printSummaries(w io.Writer, format string, summaries []*sync.PassSummary) error {
	if ok, err := writeStructured(w, format, summaries); ok {
		return err
	}

	for _, s := range summaries {
		mark := green.Render("✓")
		if s.Failed() {
			mark = red.Render("✗")
		}
		fmt.Fprintf(w, "%s %s\n", mark, s.String())
		for _, c := range s.Conflicts {
			fmt.Fprintf(w, "  %s %s %s\n", yellow.Render("conflict"), c.Path, gray.Render("local copy at "+c.BackupPath))
		}
		for _, f := range s.Failures {
			path := f.Path
			if path == "" {
				path = "(pass)"
			}
			fmt.Fprintf(w, "  %s %s %s\n", red.Render("failed"), path, gray.Render(f.Error))
		}
	}
	return nil
}

func printStatuses(w io.Writer, format string, statuses []*sync.MappingStatus) error {
	if ok, err := writeStructured(w, format, statuses); ok {
		return err
	}

	for _, s := range statuses {
		state := gray.Render("stopped")
		if s.Running {
			state = green.Render("running")
		}
		fmt.Fprintf(w, "%s %s\n", bold.Render(s.Name), state)
		fmt.Fprintf(w, "  Local:     %s\n", cyan.Render(s.LocalPath))
		fmt.Fprintf(w, "  Remote:    %s\n", cyan.Render(s.RemotePath))
		fmt.Fprintf(w, "  Tracked:   %d files, %d folders\n", s.Files, s.Folders)
		token := s.ChangeLogToken
		if token == "" {
			token = "none"
		}
		fmt.Fprintf(w, "  Changelog: %s\n", token)
		if s.LastError != "" {
			fmt.Fprintf(w, "  Error:     %s\n", red.Render(strings.TrimSpace(s.LastError)))
		}
	}
	return nil
}
