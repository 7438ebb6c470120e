package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/types"
)

// digestWidth is how much of a digest the pretty formatter shows.
const digestWidth = 12

// PrettyFormatter formats output with colors and styling using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatGroups(r))
	w.WriteString(f.formatFooter(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Result) string {
	var lines []string
	if r.Source != "" {
		lines = append(lines, LabelStyle.Render("Source:")+" "+ValueStyle.Render(r.Source))
	}
	title := "Duplicate files"
	if r.Kind == KindDirs {
		title = "Duplicate directories"
	}
	lines = append(lines, TitleStyle.Render(title)+" "+
		MutedStyle.Render(fmt.Sprintf("%d groups", r.Summary.Groups)))
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatGroups(r *Result) string {
	if len(r.Groups) == 0 {
		return MutedStyle.Render("  No duplicates found") + "\n"
	}

	width := 8
	for _, g := range r.Groups {
		if len(g.SizeHuman) > width {
			width = len(g.SizeHuman)
		}
	}

	var sb strings.Builder
	for _, g := range r.Groups {
		size := SizeStyle.Render(padLeft(g.SizeHuman, width))
		copies := ValueStyle.Render(fmt.Sprintf("x%d", len(g.Paths)))
		sb.WriteString(fmt.Sprintf("  %s  %s  %s\n", size, copies, DigestStyle.Render(shortDigest(g.Digest))))
		for _, p := range g.Paths {
			sb.WriteString(strings.Repeat(" ", width+4))
			sb.WriteString(PathStyle.Render(p))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Result) string {
	noun := "files"
	if r.Kind == KindDirs {
		noun = "dirs"
	}
	parts := []string{
		LabelStyle.Render("Redundant:") + " " + ValueStyle.Render(fmt.Sprintf("%s %s", types.FormatCount(r.Summary.RedundantCount), noun)),
		LabelStyle.Render("Reclaimable:") + " " + SizeStyle.Render(types.FormatSize(r.Summary.RedundantBytes)),
		MutedStyle.Render("Use -o plain for unformatted output"),
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

func shortDigest(s string) string {
	if len(s) <= digestWidth {
		return s
	}
	return s[:digestWidth]
}

// padLeft pads a string with spaces on the left to achieve the desired width.
func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
