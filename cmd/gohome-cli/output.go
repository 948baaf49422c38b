package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
)

type outputMode struct {
	json bool
}

func (o outputMode) printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal("format json", err)
	}
	fmt.Println(string(data))
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, joinRow(row))
	}
	_ = w.Flush()
}

// keyValues prints a flat map as a sorted two column table.
func (o outputMode) keyValues(header string, values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := [][]string{{header, "VALUE"}}
	for _, k := range keys {
		rows = append(rows, []string{k, text(values[k])})
	}
	o.table(rows)
}

func joinRow(row []string) string {
	if len(row) == 0 {
		return ""
	}
	out := row[0]
	for i := 1; i < len(row); i++ {
		out += "\t" + row[i]
	}
	return out
}

// text renders a decoded Struct value for a table cell.
func text(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	}
}

func list(v any) []any {
	items, _ := v.([]any)
	return items
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
