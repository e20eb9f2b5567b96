package schema

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

var (
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?$`)

	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04",
	}
)

// Classify determines the value type of v and returns it in normalized form:
// int64 or uint64 for integers, float64 for other numbers, bool for
// booleans, time.Time for dates and date-times and string otherwise. ok is
// false for null values.
func Classify(v interface{}) (t ValueType, normalized interface{}, ok bool) {
	switch val := v.(type) {
	case nil:
		return "", nil, false
	case bool:
		return TypeBoolean, val, true
	case int:
		return TypeNumber, int64(val), true
	case int8:
		return TypeNumber, int64(val), true
	case int16:
		return TypeNumber, int64(val), true
	case int32:
		return TypeNumber, int64(val), true
	case int64:
		return TypeNumber, val, true
	case uint:
		return TypeNumber, uint64(val), true
	case uint8:
		return TypeNumber, uint64(val), true
	case uint16:
		return TypeNumber, uint64(val), true
	case uint32:
		return TypeNumber, uint64(val), true
	case uint64:
		return TypeNumber, val, true
	case float32:
		return TypeNumber, float64(val), true
	case float64:
		return TypeNumber, val, true
	case time.Time:
		return TypeDateTime, val, true
	case string:
		return classifyString(val)
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return TypeString, fmt.Sprint(val), true
		}
		return TypeString, string(data), true
	default:
		return TypeString, fmt.Sprint(val), true
	}
}

func classifyString(s string) (ValueType, interface{}, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", nil, false
	}

	switch strings.ToLower(trimmed) {
	case "true":
		return TypeBoolean, true, true
	case "false":
		return TypeBoolean, false, true
	}

	if looksNumeric(trimmed) {
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return TypeNumber, i, true
		}
		if u, err := strconv.ParseUint(strings.TrimPrefix(trimmed, "+"), 10, 64); err == nil {
			return TypeNumber, u, true
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return TypeNumber, f, true
		}
	}

	if datePattern.MatchString(trimmed) {
		if d, err := time.Parse("2006-01-02", trimmed); err == nil {
			return TypeDate, d, true
		}
	}

	if dateTimePattern.MatchString(trimmed) {
		for _, layout := range dateTimeLayouts {
			if d, err := time.Parse(layout, trimmed); err == nil {
				return TypeDateTime, d, true
			}
		}
	}

	return TypeString, s, true
}

// looksNumeric rejects strings ParseFloat accepts but people do not write as
// numbers, like "Inf", "0x1p-2" or "1_000", and values with leading zeros
// such as zip codes.
func looksNumeric(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-' || r == '+':
			if i != 0 && s[i-1] != 'e' && s[i-1] != 'E' {
				return false
			}
		case r == '.' || r == 'e' || r == 'E':
		default:
			return false
		}
	}
	if digits == 0 {
		return false
	}
	body := strings.TrimLeft(s, "+-")
	if len(body) > 1 && body[0] == '0' && body[1] != '.' {
		return false
	}
	return true
}

// observe updates the statistics of one value type.
func (st *ValueTypeStats) observe(t ValueType, v interface{}) {
	st.Count++
	switch t {
	case TypeString:
		n := len([]rune(v.(string)))
		if st.StringMinLength == nil || n < *st.StringMinLength {
			st.StringMinLength = intPtr(n)
		}
		if st.StringMaxLength == nil || n > *st.StringMaxLength {
			st.StringMaxLength = intPtr(n)
		}
	case TypeNumber:
		n := numberText(v)
		if st.NumberMin == nil || CompareNumbers(n, *st.NumberMin) < 0 {
			st.NumberMin = &n
		}
		if st.NumberMax == nil || CompareNumbers(n, *st.NumberMax) > 0 {
			st.NumberMax = &n
		}
		p := 0
		if f, ok := v.(float64); ok {
			p = precision(f)
		}
		if st.NumberMaxPrecision == nil || p > *st.NumberMaxPrecision {
			st.NumberMaxPrecision = intPtr(p)
		}
	case TypeDate, TypeDateTime:
		layout := time.RFC3339
		if t == TypeDate {
			layout = "2006-01-02"
		}
		s := v.(time.Time).UTC().Format(layout)
		if st.DateMin == "" || s < st.DateMin {
			st.DateMin = s
		}
		if st.DateMax == "" || s > st.DateMax {
			st.DateMax = s
		}
	}
}

func precision(f float64) int {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// numberText renders a normalized number without losing digits.
func numberText(v interface{}) json.Number {
	switch n := v.(type) {
	case int64:
		return json.Number(strconv.FormatInt(n, 10))
	case uint64:
		return json.Number(strconv.FormatUint(n, 10))
	case float64:
		return json.Number(strconv.FormatFloat(n, 'g', -1, 64))
	}
	return json.Number(fmt.Sprint(v))
}

// CompareNumbers orders two numbers exactly, returning -1, 0 or +1.
// Unparseable numbers sort first.
func CompareNumbers(a, b json.Number) int {
	if x, err := a.Int64(); err == nil {
		if y, err := b.Int64(); err == nil {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	x, xok := new(big.Rat).SetString(string(a))
	y, yok := new(big.Rat).SetString(string(b))
	switch {
	case !xok && !yok:
		return 0
	case !xok:
		return -1
	case !yok:
		return 1
	}
	return x.Cmp(y)
}

func intPtr(i int) *int { return &i }
