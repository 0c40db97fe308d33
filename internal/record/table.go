// Reads and writes the delimited source document of a language.

package record

import (
	"bytes"
	"slices"

	"github.com/maruel/avatardb/internal/storage"
)

var bom = []byte("\xEF\xBB\xBF")

// Table is a parsed source document. Columns are mapped by header name and
// columns unknown to Record are carried through untouched.
type Table struct {
	header []string
	col    map[string]int
	rows   [][]string
	bom    bool
	delim  byte
}

// NewTable returns an empty table with the canonical header.
func NewTable(delim byte) *Table {
	t := &Table{header: Columns(), delim: delimOrDefault(delim)}
	t.index()
	return t
}

// Parse decodes a delimited document. The first row is the header. Every
// row must have as many fields as the header and every canonical column
// must be present.
func Parse(data []byte, delim byte) (*Table, error) {
	t := &Table{delim: delimOrDefault(delim)}
	if rest, ok := bytes.CutPrefix(data, bom); ok {
		t.bom = true
		data = rest
	}
	rows, err := split(data, t.delim)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.Malformedf("missing header row")
	}
	t.header = rows[0]
	t.rows = rows[1:]
	if err := t.index(); err != nil {
		return nil, err
	}
	for i, row := range t.rows {
		if len(row) != len(t.header) {
			return nil, storage.Malformedf("row %d has %d fields, header has %d", i+2, len(row), len(t.header))
		}
	}
	return t, nil
}

func (t *Table) index() error {
	t.col = make(map[string]int, len(t.header))
	for i, name := range t.header {
		if _, dup := t.col[name]; dup {
			return storage.Malformedf("duplicate column %q", name)
		}
		t.col[name] = i
	}
	for _, name := range canonical {
		if _, ok := t.col[name]; !ok {
			return storage.Malformedf("missing column %q", name)
		}
	}
	return nil
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Records decodes every row.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.rows))
	for i, row := range t.rows {
		for _, name := range canonical {
			out[i].set(name, row[t.col[name]])
		}
	}
	return out
}

// Find returns the row index of the record with the given id or -1.
func (t *Table) Find(id string) int {
	c := t.col["id"]
	return slices.IndexFunc(t.rows, func(row []string) bool { return row[c] == id })
}

// Get decodes the row at index i.
func (t *Table) Get(i int) Record {
	var r Record
	for _, name := range canonical {
		r.set(name, t.rows[i][t.col[name]])
	}
	return r
}

// Append adds r as a new last row. Unknown columns are left blank.
func (t *Table) Append(r *Record) error {
	if t.Find(r.ID) >= 0 {
		return storage.Malformedf("duplicate id %q", r.ID)
	}
	row := make([]string, len(t.header))
	t.fill(row, r)
	t.rows = append(t.rows, row)
	return nil
}

// Set replaces the canonical fields of row i with r. Unknown columns keep
// their value.
func (t *Table) Set(i int, r *Record) {
	row := slices.Clone(t.rows[i])
	t.fill(row, r)
	t.rows[i] = row
}

// Remove deletes row i.
func (t *Table) Remove(i int) {
	t.rows = slices.Delete(t.rows, i, i+1)
}

func (t *Table) fill(row []string, r *Record) {
	for _, name := range canonical {
		row[t.col[name]] = r.get(name)
	}
}

// Bytes serializes the table: canonical columns first, then unknown columns
// in their original order. Output is deterministic for a given table.
func (t *Table) Bytes() []byte {
	order := make([]int, 0, len(t.header))
	for _, name := range canonical {
		order = append(order, t.col[name])
	}
	for i, name := range t.header {
		if _, ok := fieldIndex[name]; !ok {
			order = append(order, i)
		}
	}
	var b bytes.Buffer
	if t.bom {
		b.Write(bom)
	}
	t.writeRow(&b, t.header, order)
	for _, row := range t.rows {
		t.writeRow(&b, row, order)
	}
	return b.Bytes()
}

func (t *Table) writeRow(b *bytes.Buffer, row []string, order []int) {
	for i, c := range order {
		if i > 0 {
			b.WriteByte(t.delim)
		}
		writeField(b, row[c], t.delim)
	}
	b.WriteByte('\n')
}

func writeField(b *bytes.Buffer, f string, delim byte) {
	if !needsQuotes(f, delim) {
		b.WriteString(f)
		return
	}
	b.WriteByte('"')
	for i := range len(f) {
		if f[i] == '"' {
			b.WriteByte('"')
		}
		b.WriteByte(f[i])
	}
	b.WriteByte('"')
}

func needsQuotes(f string, delim byte) bool {
	for i := range len(f) {
		switch f[i] {
		case delim, '"', '\r', '\n':
			return true
		}
	}
	return false
}

// split tokenizes data into rows of fields. Quoted fields keep their
// content byte for byte, line breaks included. Blank lines are skipped.
func split(data []byte, delim byte) ([][]string, error) {
	const (
		fieldStart = iota
		unquoted
		quoted
		afterQuote
	)
	var (
		rows  [][]string
		row   []string
		field []byte
		state = fieldStart
		line  = 1
	)
	endField := func() {
		row = append(row, string(field))
		field = field[:0]
		state = fieldStart
	}
	endRow := func() {
		if len(row) == 0 && len(field) == 0 && state == fieldStart {
			return
		}
		endField()
		rows = append(rows, row)
		row = nil
	}
	for i := 0; i < len(data); i++ {
		c := data[i]
		if state == quoted {
			if c == '"' {
				if i+1 < len(data) && data[i+1] == '"' {
					field = append(field, '"')
					i++
				} else {
					state = afterQuote
				}
				continue
			}
			if c == '\n' {
				line++
			}
			field = append(field, c)
			continue
		}
		switch c {
		case delim:
			endField()
		case '\r':
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			endRow()
			line++
		case '\n':
			endRow()
			line++
		case '"':
			if state != fieldStart {
				return nil, storage.Malformedf("line %d: unexpected quote", line)
			}
			state = quoted
		default:
			if state == afterQuote {
				return nil, storage.Malformedf("line %d: text after closing quote", line)
			}
			state = unquoted
			field = append(field, c)
		}
	}
	if state == quoted {
		return nil, storage.Malformedf("line %d: unterminated quoted field", line)
	}
	endRow()
	return rows, nil
}

func delimOrDefault(d byte) byte {
	if d == 0 {
		return ','
	}
	return d
}
