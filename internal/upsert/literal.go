package upsert

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnsupportedValue is returned for values with no literal form.
var ErrUnsupportedValue = errors.New("unsupported value type")

// Literal renders v as a SQLite literal. Absent values (nil pointers, nil
// slices and empty strings) render as NULL. Strings double embedded single
// quotes; byte slices render as X'..' blob literals.
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(x), nil
	case *string:
		if x == nil {
			return "NULL", nil
		}
		return quote(*x), nil
	case []byte:
		if x == nil {
			return "NULL", nil
		}
		return "X'" + strings.ToUpper(hex.EncodeToString(x)) + "'", nil
	case bool:
		return boolLiteral(x), nil
	case *bool:
		if x == nil {
			return "NULL", nil
		}
		return boolLiteral(*x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case *int64:
		if x == nil {
			return "NULL", nil
		}
		return strconv.FormatInt(*x, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return floatLiteral(x), nil
	case *float64:
		if x == nil {
			return "NULL", nil
		}
		return floatLiteral(*x), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func quote(s string) string {
	if s == "" {
		return "NULL"
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func boolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func floatLiteral(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "NULL"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
