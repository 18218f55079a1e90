// Package render converts a query result into ordered text chunks meant to be
// streamed and concatenated in emission order. Rendering is deterministic and
// never truncates; callers slice the result first if they need pagination.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/duckrelay/duckrelay/internal/query"
)

// NoResults is the single chunk emitted for a zero-row result.
const NoResults = "_no results_"

// Markdown renders the result as a pipe-delimited table: a header chunk, a
// separator chunk, then one chunk per data row with values joined in the
// header's column order.
func Markdown(result query.Result) []string {
	if len(result.Rows) == 0 {
		return []string{NoResults}
	}

	chunks := make([]string, 0, len(result.Rows)+2)
	chunks = append(chunks, "| "+strings.Join(result.Columns, " | ")+" |\n")

	separators := make([]string, len(result.Columns))
	for i := range separators {
		separators[i] = "---"
	}
	chunks = append(chunks, "| "+strings.Join(separators, " | ")+" |\n")

	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = formatCell(value)
		}
		chunks = append(chunks, "| "+strings.Join(cells, " | ")+" |\n")
	}
	return chunks
}

// JSON renders the result as a single serialized chunk.
func JSON(result query.Result) ([]string, error) {
	payload := struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}{
		Columns: result.Columns,
		Rows:    result.Rows,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return []string{string(encoded)}, nil
}

func formatCell(value any) string {
	if value == nil {
		return "NULL"
	}
	text := fmt.Sprintf("%v", value)
	// Pipes inside a cell would break the table grid.
	text = strings.ReplaceAll(text, "|", `\|`)
	return strings.ReplaceAll(text, "\n", " ")
}
