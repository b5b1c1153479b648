package badger_storage

import (
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap/errors"
)

var json = jsoniter.Config{UseNumber: true, SortMapKeys: true}.Froze()

type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

// encodeRow encodes a row as a JSON object keyed by column id. Date times are written in RFC 3339 form.
func encodeRow(row schema.Row) ([]byte, error) {
	raw := make(map[string]interface{}, len(row))
	for col, v := range row {
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		raw[strconv.FormatUint(uint64(col), 10)] = v
	}
	data, err := json.Marshal(raw)
	return data, errors.Trace(err)
}

// decodeRow decodes a row written by encodeRow and converts every value back to its column type. Columns the table
// no longer has, or that are obsolete, are dropped; columns added since the row was written get zero values.
func decodeRow(table *schema.Table, data []byte) (schema.Row, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotatef(err, "decode row of %s", table.Name)
	}
	row := table.ZeroRow()
	for name, v := range raw {
		id, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "decode row of %s: column %q", table.Name, name)
		}
		c, ok := table.Column(schema.ColumnID(id))
		if !ok || c.Obsolete {
			continue
		}
		val, err := fromJSON(c, v)
		if err != nil {
			return nil, errors.Annotatef(err, "decode row of %s", table.Name)
		}
		row[c.ID] = val
	}
	return row, nil
}

func fromJSON(c schema.Column, v interface{}) (interface{}, error) {
	switch c.Type {
	case schema.TypeInt:
		if n, ok := v.(number); ok {
			i, err := n.Int64()
			return i, errors.Trace(err)
		}
	case schema.TypeDecimal:
		if n, ok := v.(number); ok {
			f, err := n.Float64()
			return f, errors.Trace(err)
		}
	case schema.TypeDateTime:
		if s, ok := v.(string); ok {
			t, err := time.Parse(time.RFC3339Nano, s)
			return t, errors.Trace(err)
		}
	}
	return schema.CheckValue(c, v)
}
