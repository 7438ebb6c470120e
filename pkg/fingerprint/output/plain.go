package output

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"text/tabwriter"
)

// PlainFormatter writes one aligned row per path, suitable for scripting.
// No colors or styling are applied.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if _, err := tw.Write([]byte("SIZE\tDIGEST\tPATH\n")); err != nil {
		return err
	}
	for _, g := range r.Groups {
		for _, p := range g.Paths {
			if _, err := tw.Write([]byte(g.SizeHuman + "\t" + g.Digest + "\t" + p + "\n")); err != nil {
				return err
			}
		}
	}
	return tw.Flush()
}

// CSVFormatter writes the same rows as PlainFormatter with exact sizes and
// RFC 4180 quoting.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"size", "digest", "path"}); err != nil {
		return err
	}
	for _, g := range r.Groups {
		size := strconv.FormatInt(g.Size, 10)
		for _, p := range g.Paths {
			if err := writer.Write([]string{size, g.Digest, p}); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
	Register("csv", func() Formatter {
		return &CSVFormatter{}
	})
}

var (
	_ Formatter = (*PlainFormatter)(nil)
	_ Formatter = (*CSVFormatter)(nil)
)
