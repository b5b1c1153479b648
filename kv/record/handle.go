package record

import (
	"context"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"github.com/pingcap-incubator/tinyrecord/kv/transaction"
	"github.com/pingcap/errors"
)

// Widening selects how far a successful JIT load grows the load spec.
type Widening int

const (
	// WidenRow adopts the whole fetched row, so later rows of the same query carry every column.
	WidenRow Widening = iota
	// WidenColumn adopts only the accessed column.
	WidenColumn
)

func ParseWidening(s string) (Widening, error) {
	switch s {
	case "row", "":
		return WidenRow, nil
	case "column":
		return WidenColumn, nil
	}
	return WidenRow, errors.Errorf("record: unknown jit widening %q", s)
}

type Options struct {
	Widening Widening
}

// Stats counts the expensive things a handle did.
type Stats struct {
	// JITLoads counts loads triggered by reading a column the record did not load.
	JITLoads int
	// FullLoads counts loads that widened the record before a write, rename, transfer or copy.
	FullLoads      int
	CursorRebuilds int
}

// Handle is a table-typed record variable. It combines a load spec, a value buffer and a cursor, and runs every data
// call inside the active transaction of its session. A Handle is not safe for concurrent use.
type Handle struct {
	table   *schema.Table
	session *transaction.Session
	opts    Options

	spec      *LoadSpec
	buf       *Buffer
	loaded    bool
	filters   []storage.Filter
	sort      storage.SortKey
	// version counts changes to anything an open cursor depends on.
	version   uint64
	cursor    Cursor
	jitLoads  int
	fullLoads int
}

func NewHandle(session *transaction.Session, table *schema.Table, opts Options) *Handle {
	return &Handle{
		table:   table,
		session: session,
		opts:    opts,
		spec:    NewLoadSpec(table),
		buf:     NewBuffer(table.ZeroRow()),
	}
}

func (h *Handle) Table() *schema.Table {
	return h.table
}

func (h *Handle) LoadSpec() *LoadSpec {
	return h.spec
}

func (h *Handle) CursorState() CursorState {
	return h.cursor.State()
}

// Loaded reports whether the buffer holds a row read from or written to the store.
func (h *Handle) Loaded() bool {
	return h.loaded
}

// Transient reports whether the handle is a detached copy that cannot access the store.
func (h *Handle) Transient() bool {
	return h.session == nil
}

// Key returns the primary key of the record as last seen in the store.
func (h *Handle) Key() schema.Key {
	return h.table.KeyOf(h.buf.Committed())
}

func (h *Handle) Stats() Stats {
	return Stats{JITLoads: h.jitLoads, FullLoads: h.fullLoads, CursorRebuilds: h.cursor.Rebuilds()}
}

// touch records a change to the state the cursor was opened with.
func (h *Handle) touch() {
	h.version++
	h.cursor.Invalidate()
}

func (h *Handle) column(col schema.ColumnID) (schema.Column, error) {
	c, ok := h.table.Column(col)
	if !ok || c.Obsolete {
		return schema.Column{}, errors.Errorf("record: table %s has no column %d", h.table.Name, col)
	}
	return c, nil
}

func (h *Handle) checkValue(c schema.Column, v interface{}) (interface{}, error) {
	nv, err := schema.CheckValue(c, v)
	if fae, ok := err.(*schema.ErrInvalidFieldAccess); ok {
		fae.Table = h.table.Name
	}
	return nv, err
}

// SetLoadFields replaces the load spec. No columns restores the full spec.
func (h *Handle) SetLoadFields(cols ...schema.ColumnID) error {
	if err := h.spec.SetFields(cols...); err != nil {
		return err
	}
	h.touch()
	return nil
}

// SetRange restricts the record to rows whose col lies within [from, to]. A nil bound is open.
func (h *Handle) SetRange(col schema.ColumnID, from, to interface{}) error {
	f := storage.Filter{Column: col, Kind: storage.FilterRange}
	c, err := h.column(col)
	if err != nil {
		return err
	}
	if from != nil {
		if f.From, err = h.checkValue(c, from); err != nil {
			return err
		}
	}
	if to != nil {
		if f.To, err = h.checkValue(c, to); err != nil {
			return err
		}
	}
	h.setFilter(f)
	return nil
}

// SetFilter restricts the record to rows whose col equals value.
func (h *Handle) SetFilter(col schema.ColumnID, value interface{}) error {
	c, err := h.column(col)
	if err != nil {
		return err
	}
	v, err := h.checkValue(c, value)
	if err != nil {
		return err
	}
	h.setFilter(storage.Filter{Column: col, Kind: storage.FilterEqual, Value: v})
	return nil
}

// setFilter replaces the filter of f's column.
func (h *Handle) setFilter(f storage.Filter) {
	filters := make([]storage.Filter, 0, len(h.filters)+1)
	for _, old := range h.filters {
		if old.Column != f.Column {
			filters = append(filters, old)
		}
	}
	h.filters = append(filters, f)
	h.touch()
}

func (h *Handle) ResetFilters() {
	h.filters = nil
	h.touch()
}

// SetCurrentKey orders the record's rows by cols. The primary key breaks ties; no columns means primary key order.
func (h *Handle) SetCurrentKey(cols ...schema.ColumnID) error {
	for _, col := range cols {
		if _, err := h.column(col); err != nil {
			return err
		}
	}
	h.sort.Columns = append([]schema.ColumnID(nil), cols...)
	h.touch()
	return nil
}

func (h *Handle) SetAscending(ascending bool) {
	h.sort.Descending = !ascending
	h.touch()
}

// LockTable makes every later read of the table in this transaction take update locks.
func (h *Handle) LockTable(ctx context.Context) error {
	tx, err := h.context(ctx)
	if err != nil {
		return err
	}
	tx.LockTable(h.table.ID)
	h.touch()
	return nil
}

// Reset drops filters and sort order, restores the full load spec and starts iteration over.
func (h *Handle) Reset() {
	h.filters = nil
	h.sort = storage.SortKey{}
	h.spec.WidenAll()
	h.cursor.Reset()
	h.touch()
}

// Init sets every field to its zero value. Filters, sort order and load spec are kept.
func (h *Handle) Init() {
	h.buf = NewBuffer(h.table.ZeroRow())
	h.loaded = false
	h.touch()
}

func (h *Handle) context(ctx context.Context) (*transaction.Context, error) {
	if h.session == nil {
		return nil, ErrTransient
	}
	return h.session.Context(ctx)
}

func (h *Handle) readHint(tx *transaction.Context) lock.Strength {
	hint := tx.ReadHint(h.table.ID)
	readHintCounter.WithLabelValues(hint.String()).Inc()
	return hint
}

func (h *Handle) snapshot(ctx context.Context) (snapshot, error) {
	tx, err := h.context(ctx)
	if err != nil {
		return snapshot{}, err
	}
	hint := h.readHint(tx)
	cols := h.spec.Columns()
	// Sort columns are fetched even if not loaded, so the cursor can resume after the last row.
	for _, col := range h.sort.Columns {
		if !h.spec.Contains(col) {
			cols = append(cols, col)
		}
	}
	q := storage.Query{
		Table:   h.table,
		Filters: append([]storage.Filter(nil), h.filters...),
		Sort:    h.sort,
		Columns: cols,
		Hint:    hint,
	}
	return snapshot{version: h.version, txID: tx.ID(), query: q, store: tx.Store()}, nil
}

// load replaces the buffer with the loaded columns of row.
func (h *Handle) load(row schema.Row) {
	h.buf = NewBuffer(storage.Project(row, h.spec.Columns()))
	h.loaded = true
}

// Get reads the row with the given primary key. It returns false, leaving the record unchanged, if there is none.
func (h *Handle) Get(ctx context.Context, key ...interface{}) (bool, error) {
	tx, err := h.context(ctx)
	if err != nil {
		return false, err
	}
	row, err := tx.Store().FetchByKey(ctx, h.table, schema.Key(key), h.spec.Columns(), h.readHint(tx))
	if storage.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, convertStoreError(h.table, key, err)
	}
	h.load(row)
	return true, nil
}

// FindFirst reads the first row in the current order. Next continues with the row after it.
func (h *Handle) FindFirst(ctx context.Context) (bool, error) {
	return h.findOne(ctx, h.sort)
}

// FindLast reads the last row in the current order. Next then finds no further row.
func (h *Handle) FindLast(ctx context.Context) (bool, error) {
	return h.findOne(ctx, h.sort.Reverse())
}

func (h *Handle) findOne(ctx context.Context, sort storage.SortKey) (bool, error) {
	h.cursor.Reset()
	snap, err := h.snapshot(ctx)
	if err != nil {
		return false, err
	}
	q := snap.query
	q.Sort = sort
	q.Limit = 1
	c, err := snap.store.Query(ctx, q)
	if err != nil {
		return false, convertStoreError(h.table, nil, err)
	}
	defer c.Close()
	row, ok, err := c.Next(ctx)
	if err != nil {
		return false, convertStoreError(h.table, nil, err)
	}
	if !ok {
		return false, nil
	}
	h.load(row)
	h.cursor.PositionAfter(row)
	return true, nil
}

// FindSet starts iterating the rows of the record and reads the first one.
func (h *Handle) FindSet(ctx context.Context) (bool, error) {
	h.cursor.Reset()
	return h.Next(ctx)
}

// Next reads the next row of the iteration, starting one if there is none. If filters, sort order, load spec or
// locks changed since the previous row, the query is rebuilt and continues after that row.
func (h *Handle) Next(ctx context.Context) (bool, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return false, err
	}
	row, ok, err := h.cursor.Next(ctx, snap)
	if err != nil {
		return false, convertStoreError(h.table, nil, err)
	}
	if !ok {
		return false, nil
	}
	h.load(row)
	return true, nil
}

// IsEmpty reports whether no row matches the current filters.
func (h *Handle) IsEmpty(ctx context.Context) (bool, error) {
	n, err := h.count(ctx, 1)
	return n == 0, err
}

// Count returns the number of rows matching the current filters.
func (h *Handle) Count(ctx context.Context) (int, error) {
	return h.count(ctx, 0)
}

func (h *Handle) count(ctx context.Context, limit int) (int, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	q := snap.query
	q.Columns = h.table.PrimaryKey
	q.Limit = limit
	c, err := snap.store.Query(ctx, q)
	if err != nil {
		return 0, convertStoreError(h.table, nil, err)
	}
	defer c.Close()
	n := 0
	for {
		_, ok, err := c.Next(ctx)
		if err != nil {
			return n, convertStoreError(h.table, nil, err)
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// Insert stores the record as a new row.
func (h *Handle) Insert(ctx context.Context) error {
	if err := h.forceWiden(ctx); err != nil {
		return err
	}
	tx, err := h.context(ctx)
	if err != nil {
		return err
	}
	row := h.buf.SnapshotForWrite()
	tx.OnWrite(h.table.ID)
	written, err := h.write(ctx, tx, storage.OpInsert, row)
	if err != nil {
		return convertStoreError(h.table, h.table.KeyOf(row), err)
	}
	h.buf.Commit(written)
	h.loaded = true
	return nil
}

// Modify writes the record's assigned values to its row. The row must not have changed since it was read.
func (h *Handle) Modify(ctx context.Context) error {
	if !h.loaded {
		return ErrNoRecord
	}
	if err := h.forceWiden(ctx); err != nil {
		return err
	}
	tx, err := h.context(ctx)
	if err != nil {
		return err
	}
	key := h.Key()
	row := h.buf.SnapshotForWrite()
	if !cmp.Equal(h.table.KeyOf(row), key) {
		return errors.Errorf("record: primary key of %s %v was changed, use Rename", h.table.Name, key)
	}
	tx.OnWrite(h.table.ID)
	written, err := h.write(ctx, tx, storage.OpModify, row)
	if err != nil {
		return convertStoreError(h.table, key, err)
	}
	h.buf.Commit(written)
	return nil
}

// Delete removes the record's row. The row must not have changed since it was read. The values stay in the buffer.
func (h *Handle) Delete(ctx context.Context) error {
	if !h.loaded {
		return ErrNoRecord
	}
	if err := h.forceWiden(ctx); err != nil {
		return err
	}
	tx, err := h.context(ctx)
	if err != nil {
		return err
	}
	key := h.Key()
	tx.OnWrite(h.table.ID)
	if _, err = h.write(ctx, tx, storage.OpDelete, h.buf.Committed()); err != nil {
		return convertStoreError(h.table, key, err)
	}
	h.loaded = false
	return nil
}

// Rename moves the record's row to a new primary key, as an insert of the new row and a delete of the old one in
// the same transaction. If either step fails, the store and the record are left as they were.
func (h *Handle) Rename(ctx context.Context, newKey ...interface{}) error {
	if !h.loaded {
		return ErrNoRecord
	}
	keyRow, err := h.table.KeyRow(schema.Key(newKey))
	if err != nil {
		if fae, ok := err.(*schema.ErrInvalidFieldAccess); ok {
			fae.Table = h.table.Name
		}
		return err
	}
	if err = h.forceWiden(ctx); err != nil {
		return err
	}
	tx, err := h.context(ctx)
	if err != nil {
		return err
	}
	oldKey := h.Key()
	row := h.buf.SnapshotForWrite()
	for col, v := range keyRow {
		row[col] = v
	}
	tx.OnWrite(h.table.ID)
	written, err := h.write(ctx, tx, storage.OpInsert, row)
	if err != nil {
		return convertStoreError(h.table, schema.Key(newKey), err)
	}
	if _, err = h.write(ctx, tx, storage.OpDelete, h.buf.Committed()); err != nil {
		if _, undoErr := h.write(ctx, tx, storage.OpDelete, written); undoErr != nil {
			log.Errorf("rename %s %v: remove new row %v: %v", h.table.Name, oldKey, newKey, undoErr)
		}
		return convertStoreError(h.table, oldKey, err)
	}
	h.buf.Commit(written)
	h.touch()
	return nil
}

// TransferFields assigns every non-key field of src to the record. Both records are fully loaded first.
func (h *Handle) TransferFields(ctx context.Context, src *Handle) error {
	if src.table.ID != h.table.ID {
		return errors.Errorf("record: cannot transfer fields from %s to %s", src.table.Name, h.table.Name)
	}
	if err := src.forceWiden(ctx); err != nil {
		return err
	}
	if err := h.forceWiden(ctx); err != nil {
		return err
	}
	for _, col := range h.table.NonObsolete() {
		if col == schema.TimestampColumn || h.table.IsKey(col) {
			continue
		}
		v, _ := src.buf.Read(col)
		h.buf.Write(col, v)
	}
	return nil
}

// Copy returns a transient record holding all of the record's values. The copy cannot read from or write to the
// store.
func (h *Handle) Copy(ctx context.Context) (*Handle, error) {
	if err := h.forceWiden(ctx); err != nil {
		return nil, err
	}
	return &Handle{
		table:  h.table,
		opts:   h.opts,
		spec:   NewLoadSpec(h.table),
		buf:    NewBuffer(h.buf.SnapshotForWrite()),
		loaded: h.loaded,
	}, nil
}

func (h *Handle) write(ctx context.Context, tx *transaction.Context, op storage.Op, row schema.Row) (schema.Row, error) {
	start := time.Now()
	written, err := tx.Store().Write(ctx, h.table, op, row)
	writeDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
	return written, err
}

// forceWiden makes the load spec full before an operation that must not run into a JIT load halfway.
func (h *Handle) forceWiden(ctx context.Context) error {
	if h.spec.IsFull() && h.complete() {
		return nil
	}
	return h.jitLoad(ctx, 0, true)
}

// complete reports whether the buffer holds every column of the load spec.
func (h *Handle) complete() bool {
	committed := h.buf.Committed()
	for col := range h.spec.cols {
		if _, ok := committed[col]; !ok {
			return false
		}
	}
	return true
}

// jitLoad fetches the current row of the record and reconciles it with the buffer. Every loaded column must still
// hold its committed value; otherwise the record is left unchanged and ErrInconsistentRead is returned. On success
// col, or every column if all is set, becomes part of the load spec.
func (h *Handle) jitLoad(ctx context.Context, col schema.ColumnID, all bool) error {
	if !h.loaded {
		if all {
			h.spec.WidenAll()
			h.buf.Adopt(missing(h.table.ZeroRow(), h.buf.Committed()))
		} else {
			h.spec.Widen(col)
		}
		h.touch()
		return nil
	}
	tx, err := h.context(ctx)
	if err != nil {
		return err
	}
	committed := h.buf.Committed()
	key := h.table.KeyOf(committed)
	row, err := tx.Store().FetchByKey(ctx, h.table, key, nil, h.readHint(tx))
	if err != nil {
		if storage.IsNotFound(err) {
			log.Warnf("jit load of %s %v: row no longer exists", h.table.Name, key)
			jitLoadCounter.WithLabelValues("stale").Inc()
		}
		return convertStoreError(h.table, key, err)
	}
	for c, old := range committed {
		if c == schema.TimestampColumn || !h.spec.Contains(c) {
			continue
		}
		if !cmp.Equal(row[c], old) {
			column, _ := h.table.Column(c)
			log.Warnf("jit load of %s %v: column %s changed from %v to %v", h.table.Name, key, column.Name, old, row[c])
			jitLoadCounter.WithLabelValues("inconsistent").Inc()
			return &ErrInconsistentRead{Table: h.table.Name, Key: key, Column: column.Name}
		}
	}

	fetched := schema.Row{schema.TimestampColumn: row[schema.TimestampColumn]}
	if all || h.opts.Widening == WidenRow {
		for c, v := range row {
			if _, ok := committed[c]; !ok || !h.spec.Contains(c) {
				fetched[c] = v
			}
		}
		h.spec.WidenAll()
	} else {
		fetched[col] = row[col]
		h.spec.Widen(col)
	}
	h.buf.Adopt(fetched)
	if all {
		h.fullLoads++
		jitLoadCounter.WithLabelValues("full").Inc()
	} else {
		h.jitLoads++
		jitLoadCounter.WithLabelValues("ok").Inc()
	}
	log.Debugf("jit load of %s %v: %d columns adopted", h.table.Name, key, len(fetched))
	h.touch()
	return nil
}

// missing returns the columns of row that base lacks.
func missing(row, base schema.Row) schema.Row {
	out := make(schema.Row)
	for col, v := range row {
		if _, ok := base[col]; !ok {
			out[col] = v
		}
	}
	return out
}

// Value returns the value of col. Reading a column the record did not load triggers a JIT load.
func (h *Handle) Value(ctx context.Context, col schema.ColumnID) (interface{}, error) {
	c, err := h.column(col)
	if err != nil {
		return nil, err
	}
	if !h.buf.HasPending(col) {
		if _, ok := h.buf.Committed()[col]; !ok || !h.spec.Contains(col) {
			if err := h.jitLoad(ctx, col, false); err != nil {
				return nil, err
			}
		}
	}
	v, ok := h.buf.Read(col)
	if !ok || v == nil {
		return c.Type.Zero(), nil
	}
	return v, nil
}

func (h *Handle) typed(ctx context.Context, col schema.ColumnID, want schema.ColumnType) (interface{}, error) {
	c, err := h.column(col)
	if err != nil {
		return nil, err
	}
	if c.Type != want {
		return nil, &ErrInvalidFieldAccess{Table: h.table.Name, Column: c.Name, Want: c.Type, Got: want.String()}
	}
	return h.Value(ctx, col)
}

func (h *Handle) Int(ctx context.Context, col schema.ColumnID) (int64, error) {
	v, err := h.typed(ctx, col, schema.TypeInt)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (h *Handle) Decimal(ctx context.Context, col schema.ColumnID) (float64, error) {
	v, err := h.typed(ctx, col, schema.TypeDecimal)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (h *Handle) Text(ctx context.Context, col schema.ColumnID) (string, error) {
	v, err := h.typed(ctx, col, schema.TypeText)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (h *Handle) Bool(ctx context.Context, col schema.ColumnID) (bool, error) {
	v, err := h.typed(ctx, col, schema.TypeBool)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (h *Handle) DateTime(ctx context.Context, col schema.ColumnID) (time.Time, error) {
	v, err := h.typed(ctx, col, schema.TypeDateTime)
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

// SetValue assigns v to col. The value is sent to the store by the next write. Assigning a primary key column
// restarts any iteration after the current row.
func (h *Handle) SetValue(col schema.ColumnID, v interface{}) error {
	c, err := h.column(col)
	if err != nil {
		return err
	}
	if col == schema.TimestampColumn {
		return errors.Errorf("record: the timestamp of %s is maintained by the store", h.table.Name)
	}
	nv, err := h.checkValue(c, v)
	if err != nil {
		return err
	}
	h.buf.Write(col, nv)
	if h.table.IsKey(col) {
		h.touch()
	}
	return nil
}
