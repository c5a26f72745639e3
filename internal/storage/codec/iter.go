package codec

// RowIter is a peekable iterator over rows sorted by parent record UUID.
// Series codecs consume all contiguous rows sharing one UUID and leave the
// iterator positioned at the first row of the next group.
type RowIter struct {
	rows []RowValues
	pos  int
}

// NewRowIter wraps rows already sorted by the grouping key.
func NewRowIter(rows []RowValues) *RowIter {
	return &RowIter{rows: rows}
}

// Peek returns the next row without advancing.
func (it *RowIter) Peek() (RowValues, bool) {
	if it.pos >= len(it.rows) {
		return nil, false
	}
	return it.rows[it.pos], true
}

// Next returns the next row and advances past it.
func (it *RowIter) Next() (RowValues, bool) {
	row, ok := it.Peek()
	if ok {
		it.pos++
	}
	return row, ok
}

// Remaining reports how many rows have not been consumed.
func (it *RowIter) Remaining() int {
	return len(it.rows) - it.pos
}
