package report

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Align is the horizontal alignment of a column.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

func (a Align) text() text.Align {
	if a == AlignRight {
		return text.AlignRight
	}
	return text.AlignLeft
}

// Column describes one table column.
type Column struct {
	Header string
	Align  Align
}

// headerPadding is the minimum room kept around a header inside its column.
const headerPadding = 2

// simpleStyle draws no borders, a dashed rule under the header and two
// spaces between columns.
var simpleStyle = table.Style{
	Name: "simple",
	Box: table.BoxStyle{
		MiddleHorizontal: "-",
		MiddleSeparator:  "  ",
		MiddleVertical:   "  ",
	},
	Options: table.Options{
		DrawBorder:      false,
		SeparateColumns: true,
		SeparateHeader:  true,
	},
}

// RenderTable lays rows out in the plain "simple" format:
//
//	start   finish
//	------  ------
//	a       b
//
// Columns are two spaces apart, each as wide as its widest cell or its
// header plus two, and trailing spaces are trimmed from every line.
func RenderTable(cols []Column, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(simpleStyle)

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		header[i] = c.Header
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       c.Align.text(),
			AlignHeader: c.Align.text(),
			WidthMin:    text.RuneWidthWithoutEscSequences(c.Header) + headerPadding,
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(cols))
		for i := range cols {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	lines := strings.Split(tw.Render(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	if len(lines) == 1 {
		// Header only: the rule is not drawn without rows.
		rule := make([]string, len(cols))
		for i, c := range configs {
			rule[i] = strings.Repeat("-", c.WidthMin)
		}
		lines = append(lines, strings.Join(rule, "  "))
	}
	return strings.Join(lines, "\n")
}
