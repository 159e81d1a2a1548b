package remote

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Row is a single record keyed by column name.
// Values coming from the database keep their driver types, values decoded from
// change notifications are JSON scalars (string, float64, bool, nil).
type Row map[string]interface{}

// Clone returns a shallow copy of r
func (r Row) Clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// ID returns the "id" column
func (r Row) ID() string {
	return r.String("id")
}

// String returns the column as a string, or "" when it is missing or null
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	case [16]byte:
		return uuid.UUID(v).String()
	default:
		return stringify(v)
	}
}

// Int returns the column as an int, or 0 when it is missing, null or not numeric
func (r Row) Int(col string) int {
	if f, ok := toFloat(r[col]); ok {
		return int(f)
	}
	if s, ok := r[col].(string); ok {
		i, _ := strconv.Atoi(s)
		return i
	}
	return 0
}

// Bool returns the column as a bool
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Time returns the column as a time.Time, parsing RFC 3339 strings.
// Missing, null and unparsable values yield the zero time.
func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// postgres row_to_json renders timestamptz without the "T" separator in some setups
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
}
