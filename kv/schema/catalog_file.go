package schema

import (
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

type columnFile struct {
	ID       ColumnID `toml:"id"`
	Name     string   `toml:"name"`
	Type     string   `toml:"type"`
	Obsolete bool     `toml:"obsolete"`
}

type tableFile struct {
	ID         TableID      `toml:"id"`
	Name       string       `toml:"name"`
	PrimaryKey []string     `toml:"primary-key"`
	Columns    []columnFile `toml:"column"`
}

type catalogFile struct {
	Tables []tableFile `toml:"table"`
}

// ParseColumnType parses the lower case name of a column type, e.g. "decimal".
func ParseColumnType(s string) (ColumnType, error) {
	for t := TypeInt; t <= TypeDateTime; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	switch strings.ToLower(s) {
	case "int", "bigint":
		return TypeInt, nil
	case "code":
		return TypeText, nil
	case "bool":
		return TypeBool, nil
	}
	return TypeInt, errors.Errorf("schema: unknown column type %q", s)
}

// ParseValue parses the text form of a value of column c.
func ParseValue(c Column, s string) (interface{}, error) {
	var (
		v   interface{}
		err error
	)
	switch c.Type {
	case TypeInt:
		v, err = strconv.ParseInt(s, 10, 64)
	case TypeDecimal:
		v, err = strconv.ParseFloat(s, 64)
	case TypeBool:
		v, err = strconv.ParseBool(s)
	case TypeDateTime:
		v, err = time.Parse(time.RFC3339, s)
	default:
		v = s
	}
	if err != nil {
		return nil, &ErrInvalidFieldAccess{Column: c.Name, Want: c.Type, Got: strconv.Quote(s)}
	}
	return v, nil
}

// LoadCatalogFile reads table definitions from a TOML file of [[table]] entries, each with [[table.column]] entries
// and a primary-key list of column names.
func LoadCatalogFile(path string) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, errors.Annotatef(err, "read catalog %s", path)
	}
	c := NewCatalog()
	for _, tf := range f.Tables {
		byName := make(map[string]ColumnID, len(tf.Columns))
		cols := make([]Column, 0, len(tf.Columns))
		for _, cf := range tf.Columns {
			typ, err := ParseColumnType(cf.Type)
			if err != nil {
				return nil, errors.Annotatef(err, "table %s", tf.Name)
			}
			byName[cf.Name] = cf.ID
			cols = append(cols, Column{ID: cf.ID, Name: cf.Name, Type: typ, Obsolete: cf.Obsolete})
		}
		pk := make([]ColumnID, 0, len(tf.PrimaryKey))
		for _, name := range tf.PrimaryKey {
			id, ok := byName[name]
			if !ok {
				return nil, errors.Errorf("schema: primary key column %s of table %s is not declared", name, tf.Name)
			}
			pk = append(pk, id)
		}
		t, err := NewTable(tf.ID, tf.Name, pk, cols...)
		if err != nil {
			return nil, err
		}
		if err = c.Register(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ColumnByName looks up a column by name, ignoring case.
func (t *Table) ColumnByName(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}
