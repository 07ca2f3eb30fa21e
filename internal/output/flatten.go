// internal/output/flatten.go
package output

import (
	"fmt"

	"github.com/valpere/ScrapeMend/internal/organizer"
)

// FlattenResult turns one extraction into a single record: singleton fields
// first, then list fields, each in extraction order.
func FlattenResult(res *organizer.Result) Records {
	if res == nil {
		return Records{}
	}
	row := make(map[string]interface{})
	var cols []string
	if res.Fields != nil {
		res.Fields.Each(func(k, v string) {
			cols = append(cols, k)
			row[k] = v
		})
	}
	if res.Lists != nil {
		res.Lists.Each(func(k string, v []string) {
			cols = append(cols, k)
			row[k] = v
		})
	}
	return Records{Columns: cols, Rows: []map[string]interface{}{row}}
}

// FlattenItems turns collected rows into records. Columns are the union of
// item fields in first-seen order.
func FlattenItems(items []organizer.Item) Records {
	var out Records
	seen := make(map[string]bool)
	for _, it := range items {
		row := make(map[string]interface{})
		if it.Fields != nil {
			it.Fields.Each(func(k, v string) {
				if !seen[k] {
					seen[k] = true
					out.Columns = append(out.Columns, k)
				}
				row[k] = v
			})
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// Flatten accepts an organizer result, collected items or plain records.
func Flatten(v interface{}) (Records, error) {
	switch t := v.(type) {
	case *organizer.Result:
		return FlattenResult(t), nil
	case organizer.Result:
		return FlattenResult(&t), nil
	case []organizer.Item:
		return FlattenItems(t), nil
	case []map[string]interface{}:
		return Records{Rows: t}, nil
	case Records:
		return t, nil
	}
	return Records{}, fmt.Errorf("cannot flatten %T", v)
}
