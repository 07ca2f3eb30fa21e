package analyzer

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/ScrapeMend/internal/dom"
)

// Table is a data table grouped by column.
type Table struct {
	Address   string        `json:"address"`
	Caption   string        `json:"caption,omitempty"`
	Headers   []string      `json:"headers"`
	RowCount  int           `json:"row_count"`
	Columns   []ColumnGroup `json:"columns"`
	Truncated bool          `json:"truncated,omitempty"`
}

// ColumnGroup holds one record per row for a single header column.
type ColumnGroup struct {
	Header  string        `json:"header"`
	Records []FieldRecord `json:"records"`
}

// List is a ul, ol or dl element.
type List struct {
	Address string   `json:"address"`
	Type    string   `json:"type"`
	Count   int      `json:"count"`
	Items   []string `json:"items"`
}

func (p *pass) tables() []Table {
	var out []Table
	p.root.Find("table").Each(func(_ int, t *goquery.Selection) {
		out = append(out, p.table(t))
	})
	return out
}

func (p *pass) table(t *goquery.Selection) Table {
	res := Table{
		Address: dom.AddressOf(t),
		Caption: dom.Text(t.ChildrenFiltered("caption")),
	}

	// Rows belonging to nested tables are excluded.
	rows := t.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(t)
	})

	headerRow := rows.FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Children().Length() > 0 && tr.Children().Length() == tr.ChildrenFiltered("th").Length()
	}).First()
	if headerRow.Length() > 0 {
		headerRow.Children().Each(func(_ int, th *goquery.Selection) {
			res.Headers = append(res.Headers, dom.Text(th))
		})
		rows = rows.NotSelection(headerRow)
	}

	var data [][]string
	rows.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.ChildrenFiltered("td, th")
		if cells.Length() == 0 {
			return true
		}
		if len(data) >= p.limits.TableRows {
			res.Truncated = true
			return false
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			row = append(row, dom.Text(c))
		})
		data = append(data, row)
		return true
	})
	res.RowCount = len(data)

	width := len(res.Headers)
	for _, row := range data {
		if len(row) > width {
			width = len(row)
		}
	}
	for len(res.Headers) < width {
		res.Headers = append(res.Headers, fmt.Sprintf("column_%d", len(res.Headers)+1))
	}
	for i, h := range res.Headers {
		if h == "" {
			res.Headers[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	res.Columns = make([]ColumnGroup, width)
	for col := range res.Columns {
		res.Columns[col].Header = res.Headers[col]
	}
	for i, row := range data {
		id := rowIdentifier(row, i)
		for col, value := range row {
			res.Columns[col].Records = append(res.Columns[col].Records, FieldRecord{
				FieldName: res.Headers[col],
				Value:     value,
				Type:      string(p.classifier.ClassifyText(value).Category),
				Metadata: map[string]string{
					"row":    id,
					"column": fmt.Sprint(col),
				},
			})
		}
	}
	return res
}

// rowIdentifier prefers the first cell, then the second, then a synthetic index.
func rowIdentifier(row []string, index int) string {
	for i := 0; i < len(row) && i < 2; i++ {
		if row[i] != "" {
			return row[i]
		}
	}
	return fmt.Sprintf("row_%d", index)
}

func (p *pass) lists() []List {
	var out []List
	p.root.Find("ul, ol, dl").Each(func(_ int, l *goquery.Selection) {
		items := l.ChildrenFiltered("li, dt")
		if items.Length() == 0 {
			return
		}
		list := List{
			Address: dom.AddressOf(l),
			Type:    dom.TagName(l),
			Count:   items.Length(),
		}
		items.EachWithBreak(func(_ int, li *goquery.Selection) bool {
			if text := dom.Text(li); text != "" {
				list.Items = append(list.Items, dom.Truncate(text, 200))
			}
			return len(list.Items) < p.limits.ListItems
		})
		out = append(out, list)
	})
	return out
}
