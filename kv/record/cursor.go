package record

import (
	"context"
	"fmt"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
)

type CursorState int

const (
	Fresh CursorState = iota
	Open
	Exhausted
	Invalidated
)

func (s CursorState) String() string {
	switch s {
	case Fresh:
		return "Fresh"
	case Open:
		return "Open"
	case Exhausted:
		return "Exhausted"
	case Invalidated:
		return "Invalidated"
	}
	return fmt.Sprintf("CursorState(%d)", int(s))
}

// snapshot is the state a cursor's query is derived from. version counts the changes to the filters, sort key, load
// spec, explicit locks and primary key of the owning record; txID names the transaction whose hints apply.
type snapshot struct {
	version uint64
	txID    uint64
	query   storage.Query
	store   storage.Session
}

// Cursor is a restartable forward iterator over the rows of a record's query. It remembers the snapshot it was opened
// with and the last row it produced. When Next is called with a snapshot that differs from the remembered one, the
// cursor is invalidated and transparently reopened from the new snapshot, strictly after the last row produced. If
// the new sort order uses columns the last row was not read with, they are fetched first; a last row deleted in the
// meantime then fails the rebuild with ErrStaleRow.
//
// Every rebuild re-runs the query. Code that changes filters or locks between every Next pays one query per row.
type Cursor struct {
	state    CursorState
	opened   snapshot
	inner    storage.Cursor
	last     schema.Row
	rebuilds int
	// seeked is set while the cursor waits to be opened after a row placed by PositionAfter.
	seeked bool
}

func (c *Cursor) State() CursorState {
	return c.state
}

// Rebuilds returns how many times the cursor was reopened after an invalidation.
func (c *Cursor) Rebuilds() int {
	return c.rebuilds
}

// Next returns the next row under snap. It returns false once the rows are exhausted; an exhausted cursor keeps
// returning false until Reset.
func (c *Cursor) Next(ctx context.Context, snap snapshot) (schema.Row, bool, error) {
	if c.state == Open && c.stale(snap) {
		c.Invalidate()
	}
	switch c.state {
	case Exhausted:
		return nil, false, nil
	case Fresh:
		if err := c.open(ctx, snap, nil); err != nil {
			return nil, false, err
		}
	case Invalidated:
		var after schema.Row
		if c.last != nil {
			var err error
			if after, err = c.position(ctx, snap); err != nil {
				return nil, false, err
			}
		}
		if err := c.open(ctx, snap, after); err != nil {
			return nil, false, err
		}
		if c.seeked {
			c.seeked = false
		} else {
			log.Debugf("rebuild cursor on %s after %v", snap.query.Table.Name, after)
			c.rebuilds++
			cursorRebuildCounter.Inc()
		}
	}

	row, ok, err := c.inner.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.close()
		c.state = Exhausted
		return nil, false, nil
	}
	c.last = row
	return row, true, nil
}

// Invalidate marks an open cursor for a rebuild at the next call to Next. It has no effect on a cursor that is not
// open.
func (c *Cursor) Invalidate() {
	if c.state != Open {
		return
	}
	c.close()
	c.state = Invalidated
}

// Reset forgets the position of the cursor. The next call to Next starts from the first row.
func (c *Cursor) Reset() {
	c.close()
	c.state = Fresh
	c.last = nil
	c.seeked = false
}

// PositionAfter places the cursor on row, which must carry the primary key. The next call to Next returns the row
// following it.
func (c *Cursor) PositionAfter(row schema.Row) {
	c.close()
	c.state = Invalidated
	c.last = row
	c.seeked = true
}

// position returns the place of the last row in the order of snap. Order columns the last row was not read with
// are fetched by its primary key.
func (c *Cursor) position(ctx context.Context, snap snapshot) (schema.Row, error) {
	table, pos := snap.query.Table, c.last
	var missing []schema.ColumnID
	for _, col := range storage.OrderColumns(table, snap.query.Sort) {
		if _, ok := pos[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		key := table.KeyOf(pos)
		row, err := snap.store.FetchByKey(ctx, table, key, missing, lock.None)
		if err != nil {
			if storage.IsNotFound(err) {
				return nil, &ErrStaleRow{Table: table.Name, Key: key}
			}
			return nil, err
		}
		pos = pos.Clone()
		for _, col := range missing {
			pos[col] = row[col]
		}
	}
	return storage.Position(table, snap.query.Sort, pos), nil
}

func (c *Cursor) stale(snap snapshot) bool {
	return snap.version != c.opened.version ||
		snap.txID != c.opened.txID ||
		snap.query.Hint != c.opened.query.Hint ||
		snap.store != c.opened.store
}

func (c *Cursor) open(ctx context.Context, snap snapshot, after schema.Row) error {
	q := snap.query
	q.After = after
	inner, err := snap.store.Query(ctx, q)
	if err != nil {
		return err
	}
	c.inner = inner
	c.opened = snap
	c.state = Open
	return nil
}

func (c *Cursor) close() {
	if c.inner != nil {
		c.inner.Close()
		c.inner = nil
	}
}
