package sql_storage

import (
	"database/sql"

	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap/errors"
)

func scanTarget(c schema.Column) interface{} {
	switch c.Type {
	case schema.TypeInt:
		return new(sql.NullInt64)
	case schema.TypeDecimal:
		return new(sql.NullFloat64)
	case schema.TypeBool:
		return new(sql.NullBool)
	case schema.TypeDateTime:
		return new(sql.NullTime)
	}
	return new(sql.NullString)
}

// scanValue converts a scan target back into the column's Go type. NULL reads as the type's zero value.
func scanValue(c schema.Column, target interface{}) interface{} {
	switch x := target.(type) {
	case *sql.NullInt64:
		if x.Valid {
			return x.Int64
		}
	case *sql.NullFloat64:
		if x.Valid {
			return x.Float64
		}
	case *sql.NullBool:
		if x.Valid {
			return x.Bool
		}
	case *sql.NullTime:
		if x.Valid {
			return x.Time
		}
	case *sql.NullString:
		if x.Valid {
			return x.String
		}
	}
	return c.Type.Zero()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(rows scanner, cols []schema.Column) (schema.Row, error) {
	targets := make([]interface{}, len(cols))
	for i, c := range cols {
		targets[i] = scanTarget(c)
	}
	if err := rows.Scan(targets...); err != nil {
		return nil, errors.Trace(err)
	}
	row := make(schema.Row, len(cols))
	for i, c := range cols {
		row[c.ID] = scanValue(c, targets[i])
	}
	return row, nil
}
