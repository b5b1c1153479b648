package record

import "github.com/pingcap-incubator/tinyrecord/kv/schema"

// Buffer holds the values of one record. committed is the row as last seen in the store and is never mutated in
// place, only replaced. pending holds the values assigned since then.
type Buffer struct {
	committed schema.Row
	pending   schema.Row
}

func NewBuffer(committed schema.Row) *Buffer {
	return &Buffer{committed: committed, pending: schema.Row{}}
}

// Read returns the pending value of col if there is one, the committed value otherwise.
func (b *Buffer) Read(col schema.ColumnID) (interface{}, bool) {
	if v, ok := b.pending[col]; ok {
		return v, true
	}
	v, ok := b.committed[col]
	return v, ok
}

// Write assigns v to col. The committed view is left alone.
func (b *Buffer) Write(col schema.ColumnID, v interface{}) {
	b.pending[col] = v
}

// HasPending reports whether col was assigned since the last commit.
func (b *Buffer) HasPending(col schema.ColumnID) bool {
	_, ok := b.pending[col]
	return ok
}

// Dirty reports whether any column was assigned since the last commit.
func (b *Buffer) Dirty() bool {
	return len(b.pending) > 0
}

// SnapshotForWrite returns the row to send to the store: committed overridden by pending.
func (b *Buffer) SnapshotForWrite() schema.Row {
	return merge(b.committed, b.pending)
}

// Commit installs row, as returned by a successful store write, as the committed view and drops pending values.
func (b *Buffer) Commit(row schema.Row) {
	b.committed = row
	b.pending = schema.Row{}
}

// Adopt merges freshly fetched values into the committed view. Pending values are kept.
func (b *Buffer) Adopt(row schema.Row) {
	b.committed = merge(b.committed, row)
}

// Committed returns the committed view. It must not be modified.
func (b *Buffer) Committed() schema.Row {
	return b.committed
}

func merge(base, over schema.Row) schema.Row {
	out := make(schema.Row, len(base)+len(over))
	for col, v := range base {
		out[col] = v
	}
	for col, v := range over {
		out[col] = v
	}
	return out
}
