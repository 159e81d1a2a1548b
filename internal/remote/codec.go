package remote

import (
	"fmt"
	"time"

	"github.com/valyala/fastjson"
)

// EncodeEvent renders e as {"table":...,"type":...,"record":{...}},
// the payload format shared by the Postgres trigger and the Redis feed
func EncodeEvent(e Event) []byte {
	var a fastjson.Arena
	o := a.NewObject()
	o.Set("table", a.NewString(e.Collection))
	o.Set("type", a.NewString(string(e.Type)))

	rec := a.NewObject()
	for k, v := range e.Record {
		rec.Set(k, encodeValue(&a, v))
	}
	o.Set("record", rec)

	return o.MarshalTo(nil)
}

// DecodeEvent parses a payload produced by EncodeEvent or by the notify trigger.
// p is not safe for concurrent use; callers keep one parser per goroutine.
func DecodeEvent(p *fastjson.Parser, data []byte) (Event, error) {
	v, err := p.ParseBytes(data)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	e := Event{
		Collection: string(v.GetStringBytes("table")),
		Type:       EventType(v.GetStringBytes("type")),
		Record:     Row{},
	}
	if e.Collection == "" || e.Type == "" {
		return Event{}, ErrMalformedEvent
	}

	if rec := v.GetObject("record"); rec != nil {
		rec.Visit(func(key []byte, v *fastjson.Value) {
			e.Record[string(key)] = decodeValue(v)
		})
	}

	return e, nil
}

func encodeValue(a *fastjson.Arena, v interface{}) *fastjson.Value {
	switch x := v.(type) {
	case nil:
		return a.NewNull()
	case bool:
		if x {
			return a.NewTrue()
		}
		return a.NewFalse()
	case string:
		return a.NewString(x)
	case time.Time:
		if x.IsZero() {
			return a.NewNull()
		}
		return a.NewString(x.UTC().Format(time.RFC3339Nano))
	}
	if f, ok := toFloat(v); ok {
		return a.NewNumberFloat64(f)
	}
	return a.NewString(stringify(v))
}

func decodeValue(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNull:
		return nil
	}
	return string(v.MarshalTo(nil))
}
