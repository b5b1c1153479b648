package sql_storage

import (
	"strconv"
	"strings"

	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
)

// tableHint returns the T-SQL table hint that makes a read honor strength s.
func tableHint(s lock.Strength) string {
	switch s {
	case lock.Shared:
		return "WITH(READCOMMITTED, READCOMMITTEDLOCK)"
	case lock.Update:
		return "WITH(UPDLOCK)"
	case lock.Exclusive:
		return "WITH(UPDLOCK, HOLDLOCK)"
	}
	return "WITH(READUNCOMMITTED)"
}

func quote(name string) string {
	return "[" + strings.Replace(name, "]", "]]", -1) + "]"
}

// statement accumulates T-SQL text and its positional arguments, named @p1, @p2... as the sqlserver driver expects.
type statement struct {
	sb   strings.Builder
	args []interface{}
}

func (st *statement) write(parts ...string) {
	for _, p := range parts {
		st.sb.WriteString(p)
	}
}

func (st *statement) arg(v interface{}) string {
	st.args = append(st.args, v)
	return "@p" + strconv.Itoa(len(st.args))
}

func (st *statement) String() string {
	return st.sb.String()
}

// columnExpr returns the select expression of column c. The rowversion column is read as a bigint.
func columnExpr(c schema.Column, prefix string) string {
	if c.ID == schema.TimestampColumn {
		return "CONVERT(BIGINT, " + prefix + quote(c.Name) + ")"
	}
	return prefix + quote(c.Name)
}

func selectColumns(table *schema.Table, columns []schema.ColumnID) []schema.Column {
	if columns == nil {
		columns = table.NonObsolete()
	}
	out := make([]schema.Column, 0, len(columns))
	for _, id := range columns {
		if c, ok := table.Column(id); ok && !c.Obsolete {
			out = append(out, c)
		}
	}
	return out
}

func column(table *schema.Table, id schema.ColumnID) schema.Column {
	c, _ := table.Column(id)
	return c
}

func (st *statement) selectList(cols []schema.Column) {
	for i, c := range cols {
		if i > 0 {
			st.write(", ")
		}
		st.write(columnExpr(c, ""), " AS ", quote(c.Name))
	}
}

func (st *statement) keyCondition(table *schema.Table, key schema.Key) {
	for i, id := range table.PrimaryKey {
		if i > 0 {
			st.write(" AND ")
		}
		st.write(quote(column(table, id).Name), " = ", st.arg(key[i]))
	}
}

func (st *statement) versionCondition(table *schema.Table, version int64) {
	st.write(" AND ", columnExpr(column(table, schema.TimestampColumn), ""), " = ", st.arg(version))
}

// renderSelect renders q as one SELECT statement with the columns in the order selectColumns returns them.
func renderSelect(q storage.Query) (*statement, []schema.Column) {
	st := new(statement)
	cols := selectColumns(q.Table, q.Columns)
	st.write("SELECT ")
	if q.Limit > 0 {
		st.write("TOP (", strconv.Itoa(q.Limit), ") ")
	}
	st.selectList(cols)
	st.write(" FROM ", quote(q.Table.Name), " ", tableHint(q.Hint))

	var conds []func()
	for _, f := range q.Filters {
		f := f
		name := quote(column(q.Table, f.Column).Name)
		conds = append(conds, func() {
			switch f.Kind {
			case storage.FilterEqual:
				st.write(name, " = ", st.arg(f.Value))
			case storage.FilterRange:
				switch {
				case f.From != nil && f.To != nil:
					st.write(name, " BETWEEN ", st.arg(f.From), " AND ", st.arg(f.To))
				case f.From != nil:
					st.write(name, " >= ", st.arg(f.From))
				case f.To != nil:
					st.write(name, " <= ", st.arg(f.To))
				default:
					st.write("1 = 1")
				}
			}
		})
	}
	if q.After != nil {
		conds = append(conds, func() { st.after(q.Table, q.Sort, q.After) })
	}
	for i, cond := range conds {
		if i == 0 {
			st.write(" WHERE ")
		} else {
			st.write(" AND ")
		}
		cond()
	}

	st.write(" ORDER BY ")
	dir := " ASC"
	if q.Sort.Descending {
		dir = " DESC"
	}
	for i, id := range storage.OrderColumns(q.Table, q.Sort) {
		if i > 0 {
			st.write(", ")
		}
		st.write(quote(column(q.Table, id).Name), dir)
	}
	return st, cols
}

// after renders the keyset condition selecting rows ordered strictly after pos:
// (a > @a) OR (a = @a AND b > @b) OR ...
func (st *statement) after(table *schema.Table, s storage.SortKey, pos schema.Row) {
	op := " > "
	if s.Descending {
		op = " < "
	}
	cols := storage.OrderColumns(table, s)
	st.write("(")
	for i := range cols {
		if i > 0 {
			st.write(" OR ")
		}
		st.write("(")
		for j := 0; j < i; j++ {
			st.write(quote(column(table, cols[j]).Name), " = ", st.arg(pos[cols[j]]), " AND ")
		}
		st.write(quote(column(table, cols[i]).Name), op, st.arg(pos[cols[i]]), ")")
	}
	st.write(")")
}

func renderFetch(table *schema.Table, key schema.Key, columns []schema.ColumnID, hint lock.Strength) (*statement, []schema.Column) {
	st := new(statement)
	cols := selectColumns(table, columns)
	st.write("SELECT ")
	st.selectList(cols)
	st.write(" FROM ", quote(table.Name), " ", tableHint(hint), " WHERE ")
	st.keyCondition(table, key)
	return st, cols
}

// writableColumns returns the columns an insert or update assigns: every non-obsolete column but the rowversion.
func writableColumns(table *schema.Table) []schema.Column {
	var cols []schema.Column
	for _, c := range table.Columns {
		if !c.Obsolete && c.ID != schema.TimestampColumn {
			cols = append(cols, c)
		}
	}
	return cols
}

func renderInsert(table *schema.Table, row schema.Row) *statement {
	st := new(statement)
	cols := writableColumns(table)
	st.write("INSERT INTO ", quote(table.Name), " (")
	for i, c := range cols {
		if i > 0 {
			st.write(", ")
		}
		st.write(quote(c.Name))
	}
	st.write(") OUTPUT ", columnExpr(column(table, schema.TimestampColumn), "INSERTED."), " VALUES (")
	for i, c := range cols {
		if i > 0 {
			st.write(", ")
		}
		st.write(st.arg(row[c.ID]))
	}
	st.write(")")
	return st
}

// renderUpdate renders an update of every non-key column guarded by the row version the caller read.
func renderUpdate(table *schema.Table, row schema.Row) *statement {
	st := new(statement)
	st.write("UPDATE ", quote(table.Name), " SET ")
	n := 0
	for _, c := range writableColumns(table) {
		if table.IsKey(c.ID) {
			continue
		}
		if n > 0 {
			st.write(", ")
		}
		st.write(quote(c.Name), " = ", st.arg(row[c.ID]))
		n++
	}
	if n == 0 {
		// Key-only table: touch the row so its rowversion still moves.
		name := quote(column(table, table.PrimaryKey[0]).Name)
		st.write(name, " = ", name)
	}
	st.write(" OUTPUT ", columnExpr(column(table, schema.TimestampColumn), "INSERTED."), " WHERE ")
	st.keyCondition(table, table.KeyOf(row))
	st.versionCondition(table, row.Version())
	return st
}

func renderDelete(table *schema.Table, row schema.Row) *statement {
	st := new(statement)
	st.write("DELETE FROM ", quote(table.Name), " WHERE ")
	st.keyCondition(table, table.KeyOf(row))
	st.versionCondition(table, row.Version())
	return st
}
