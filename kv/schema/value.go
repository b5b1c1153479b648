package schema

import (
	"fmt"
	"strings"
	"time"
)

// ErrInvalidFieldAccess is returned when a value of an incompatible type is read from or assigned to a column
// through a dynamically typed path. It is never deferred: the call that made the access fails.
type ErrInvalidFieldAccess struct {
	Table  string
	Column string
	Want   ColumnType
	Got    string
}

func (e *ErrInvalidFieldAccess) Error() string {
	return fmt.Sprintf("invalid field access: %s.%s is %s, got %s", e.Table, e.Column, e.Want, e.Got)
}

// CheckValue normalizes v to the canonical Go type of column c. Integer and float widths are widened; anything
// else that does not match the column type is an ErrInvalidFieldAccess.
func CheckValue(c Column, v interface{}) (interface{}, error) {
	switch c.Type {
	case TypeInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint8:
			return int64(x), nil
		}
	case TypeDecimal:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		}
	case TypeText:
		if x, ok := v.(string); ok {
			return x, nil
		}
	case TypeBool:
		if x, ok := v.(bool); ok {
			return x, nil
		}
	case TypeDateTime:
		if x, ok := v.(time.Time); ok {
			return x, nil
		}
	}
	return nil, &ErrInvalidFieldAccess{Column: c.Name, Want: c.Type, Got: fmt.Sprintf("%T", v)}
}

// CompareValues orders two values of the same column type. nil sorts before everything.
func CompareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case int64:
		y, _ := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case float64:
		y, _ := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case time.Time:
		y, _ := b.(time.Time)
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
