package markdown

import (
	"regexp"
	"strings"
)

// Table is a pipe table. Start and End delimit its lines (End exclusive).
type Table struct {
	Header []string
	Rows   [][]string
	Start  int
	End    int
}

var separatorCellRe = regexp.MustCompile(`^:?-+:?$`)

// FindTable returns the first pipe table within lines[from:to].
func FindTable(lines []string, from, to int) (Table, bool) {
	if to > len(lines) {
		to = len(lines)
	}
	for i := from; i < to; i++ {
		if !IsTableLine(lines[i]) {
			continue
		}
		if t, ok := parseTableAt(lines, i, to); ok {
			return t, true
		}
	}
	return Table{}, false
}

// Tables returns every pipe table in lines.
func Tables(lines []string) []Table {
	var out []Table
	for i := 0; i < len(lines); {
		t, ok := FindTable(lines, i, len(lines))
		if !ok {
			break
		}
		out = append(out, t)
		i = t.End
	}
	return out
}

func parseTableAt(lines []string, start, to int) (Table, bool) {
	end := start
	for end < to && IsTableLine(lines[end]) {
		end++
	}
	block := lines[start:end]
	if len(block) == 0 {
		return Table{}, false
	}
	t := Table{Header: SplitRow(block[0]), Start: start, End: end}
	body := block[1:]
	if len(body) > 0 && isSeparatorRow(body[0]) {
		body = body[1:]
	}
	for _, line := range body {
		if isSeparatorRow(line) {
			continue
		}
		t.Rows = append(t.Rows, SplitRow(line))
	}
	return t, true
}

func isSeparatorRow(line string) bool {
	cells := SplitRow(line)
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if !separatorCellRe.MatchString(strings.ReplaceAll(c, " ", "")) {
			return false
		}
	}
	return true
}

// SplitRow splits "| a | b |" into trimmed cells; "\|" is kept literally.
func SplitRow(line string) []string {
	t := strings.TrimSpace(line)
	t = strings.TrimPrefix(t, "|")
	if strings.HasSuffix(t, "|") && !strings.HasSuffix(t, `\|`) {
		t = t[:len(t)-1]
	}
	var cells []string
	var cur strings.Builder
	for i := 0; i < len(t); i++ {
		if t[i] == '\\' && i+1 < len(t) && t[i+1] == '|' {
			cur.WriteByte('|')
			i++
			continue
		}
		if t[i] == '|' {
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(t[i])
	}
	cells = append(cells, strings.TrimSpace(cur.String()))
	return cells
}

// Column finds a header by name, case-insensitive and ignoring inline markup.
// It returns -1 when no header matches.
func (t Table) Column(names ...string) int {
	for i, h := range t.Header {
		plain := Plain(h)
		for _, n := range names {
			if strings.EqualFold(plain, n) {
				return i
			}
		}
	}
	return -1
}

// Cell returns row[col], or "" when the row is short or col is -1.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// KeyValue reads a two-column metadata table ("| Field | Value |") and returns
// the value cell of the first row whose key matches one of keys.
func (t Table) KeyValue(keys ...string) (string, bool) {
	rows := append([][]string{t.Header}, t.Rows...)
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		key := strings.TrimSuffix(Plain(row[0]), ":")
		for _, k := range keys {
			if strings.EqualFold(key, k) {
				return row[1], true
			}
		}
	}
	return "", false
}
