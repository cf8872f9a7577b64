package etl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ColumnType the logical type of a column. Individual cells are held as
// int64, float64, string, bool, time.Time or nil (null).
type ColumnType string

const (
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeString ColumnType = "string"
	TypeBool   ColumnType = "bool"
	TypeTime   ColumnType = "timestamp"
	// TypeAny column type could not be inferred (all null or mixed)
	TypeAny ColumnType = "any"
)

// DefaultTimeLayout layout used when a type_cast config gives no format.
const DefaultTimeLayout = "2006-01-02 15:04:05"

func inferType(v interface{}) ColumnType {
	switch v.(type) {
	case int64, int, int32:
		return TypeInt
	case float64, float32:
		return TypeFloat
	case string:
		return TypeString
	case bool:
		return TypeBool
	case time.Time:
		return TypeTime
	}
	return TypeAny
}

// normalizeValue narrow incoming cell values to the canonical cell types.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	case int64, float64, string, bool, time.Time:
		return val
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	}
	return 0, false
}

func valueString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	}
	return fmt.Sprintf("%v", v)
}

// compareValues order two non-null cells. The second result is false when the
// values are not comparable (mixed incompatible types).
func compareValues(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok2 := toFloat(b); ok2 {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(va, vb), true
		}
	case bool:
		if vb, ok := b.(bool); ok {
			switch {
			case va == vb:
				return 0, true
			case vb:
				return -1, true
			}
			return 1, true
		}
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			switch {
			case va.Before(vb):
				return -1, true
			case va.After(vb):
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return false
}

// castValue convert a cell to the target type. The second result is false
// when the value cannot be parsed; callers record the coercion failure and
// emit null instead of aborting.
func castValue(v interface{}, target ColumnType, timeLayout string) (interface{}, bool) {
	if v == nil {
		return nil, true
	}
	switch target {
	case TypeInt:
		switch val := v.(type) {
		case int64:
			return val, true
		case float64:
			return int64(val), true
		case bool:
			if val {
				return int64(1), true
			}
			return int64(0), true
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				return i, true
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				return int64(f), true
			}
		case time.Time:
			return val.Unix(), true
		}
	case TypeFloat:
		if f, ok := toFloat(v); ok {
			return f, true
		}
		switch val := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				return f, true
			}
		case bool:
			if val {
				return float64(1), true
			}
			return float64(0), true
		}
	case TypeString:
		return valueString(v), true
	case TypeBool:
		switch val := v.(type) {
		case bool:
			return val, true
		case int64:
			return val != 0, true
		case float64:
			return val != 0, true
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true", "1", "yes", "y":
				return true, true
			case "false", "0", "no", "n":
				return false, true
			}
		}
	case TypeTime:
		layout := timeLayout
		if layout == "" {
			layout = DefaultTimeLayout
		}
		switch val := v.(type) {
		case time.Time:
			return val, true
		case string:
			if t, err := time.Parse(layout, strings.TrimSpace(val)); err == nil {
				return t, true
			}
			// common interchange layouts as a second chance
			for _, l := range []string{time.RFC3339, "2006-01-02"} {
				if t, err := time.Parse(l, strings.TrimSpace(val)); err == nil {
					return t, true
				}
			}
		case int64:
			return time.Unix(val, 0).UTC(), true
		}
	}
	return nil, false
}

// ParseColumnType resolve a user supplied type name, "" and unknown are invalid.
func ParseColumnType(name string) (ColumnType, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "integer", "bigint":
		return TypeInt, true
	case "float", "double", "decimal":
		return TypeFloat, true
	case "string", "text", "varchar":
		return TypeString, true
	case "bool", "boolean":
		return TypeBool, true
	case "datetime", "timestamp", "date":
		return TypeTime, true
	}
	return TypeAny, false
}
