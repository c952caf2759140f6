package main

import (
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const maxCellWidth = 60

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// cell shortens long values to one table line.
func cell(s string) string {
	return text.Snip(whitespace.Replace(s), maxCellWidth, "…")
}

var whitespace = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ")

func ms(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
