package remote

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Op is the kind of a Filter node
type Op int

const (
	OpAll Op = iota
	OpEq
	OpIsNull
	OpAnd
	OpOr
)

// Filter is a predicate over rows. The zero value matches every row.
type Filter struct {
	Op     Op
	Column string
	Value  interface{}
	Terms  []Filter
}

// All matches every row
func All() Filter { return Filter{} }

// Eq matches rows whose column equals v
func Eq(column string, v interface{}) Filter {
	return Filter{Op: OpEq, Column: column, Value: v}
}

// IsNull matches rows whose column is null or missing
func IsNull(column string) Filter {
	return Filter{Op: OpIsNull, Column: column}
}

// And matches rows accepted by every term
func And(terms ...Filter) Filter {
	return Filter{Op: OpAnd, Terms: terms}
}

// Or matches rows accepted by at least one term
func Or(terms ...Filter) Filter {
	return Filter{Op: OpOr, Terms: terms}
}

// Match evaluates the filter against r
func (f Filter) Match(r Row) bool {
	switch f.Op {
	case OpAll:
		return true
	case OpEq:
		v, ok := r[f.Column]
		return ok && equal(v, f.Value)
	case OpIsNull:
		return r[f.Column] == nil
	case OpAnd:
		for _, t := range f.Terms {
			if !t.Match(r) {
				return false
			}
		}
		return true
	case OpOr:
		for _, t := range f.Terms {
			if t.Match(r) {
				return true
			}
		}
		return false
	}
	return false
}

// Columns returns every column referenced by the filter
func (f Filter) Columns() []string {
	var cols []string
	switch f.Op {
	case OpEq, OpIsNull:
		cols = append(cols, f.Column)
	case OpAnd, OpOr:
		for _, t := range f.Terms {
			cols = append(cols, t.Columns()...)
		}
	}
	return cols
}

// String renders the filter in PostgREST syntax, e.g. or(and(a.eq.1,b.eq.2),c.is.null)
func (f Filter) String() string {
	switch f.Op {
	case OpEq:
		return f.Column + ".eq." + stringify(f.Value)
	case OpIsNull:
		return f.Column + ".is.null"
	case OpAnd, OpOr:
		parts := make([]string, len(f.Terms))
		for i, t := range f.Terms {
			parts[i] = t.String()
		}
		name := "and"
		if f.Op == OpOr {
			name = "or"
		}
		return name + "(" + strings.Join(parts, ",") + ")"
	}
	return ""
}

func equal(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return stringify(a) == stringify(b)
}

// compare orders two column values: nil first, then numbers, times, bools and strings
func compare(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if isTime(a) && isTime(b) {
		r := Row{"a": a, "b": b}
		return r.Time("a").Compare(r.Time("b"))
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func isTime(v interface{}) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case string:
		return !Row{"v": t}.Time("v").IsZero()
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(s)
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return s.String()
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
