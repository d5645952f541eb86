package contracts

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Well-known message fields
const (
	FieldBody = "body"
	FieldTag  = "tag"
)

// Tag is the correlation identifier attached to an in-flight request
type Tag int64

// Message is an application payload keyed by field name
type Message map[string]any

// NewMessage creates a message carrying the given body
func NewMessage(body any) Message {
	return Message{FieldBody: body}
}

// Body returns the body field, or nil if absent
func (m Message) Body() any {
	return m[FieldBody]
}

// Clone returns a shallow copy of the message
func (m Message) Clone() Message {
	out := make(Message, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HasTag reports whether the message carries a tag field
func (m Message) HasTag() bool {
	_, ok := m[FieldTag]
	return ok
}

// WithTag returns a copy of the message stamped with tag.
// The receiver is not modified.
func (m Message) WithTag(tag Tag) Message {
	out := m.Clone()
	out[FieldTag] = int64(tag)
	return out
}

// WithoutTag returns a copy of the message with the tag field removed
func (m Message) WithoutTag() Message {
	out := m.Clone()
	delete(out, FieldTag)
	return out
}

// Tag extracts the correlation tag.
// Backends that round-trip through JSON or string encodings may hand the tag
// back as a float, json.Number or decimal string; all integral forms are accepted.
func (m Message) Tag() (Tag, error) {
	v, ok := m[FieldTag]
	if !ok {
		return 0, ErrMissingTag
	}
	tag, err := ParseTag(v)
	if err != nil {
		return 0, err
	}
	return tag, nil
}

// ParseTag converts any integral representation into a Tag
func ParseTag(v any) (Tag, error) {
	switch t := v.(type) {
	case Tag:
		return t, nil
	case int:
		return Tag(t), nil
	case int8:
		return Tag(t), nil
	case int16:
		return Tag(t), nil
	case int32:
		return Tag(t), nil
	case int64:
		return Tag(t), nil
	case uint:
		return fromUint(uint64(t), v)
	case uint8:
		return Tag(t), nil
	case uint16:
		return Tag(t), nil
	case uint32:
		return Tag(t), nil
	case uint64:
		return fromUint(t, v)
	case float32:
		return fromFloat(float64(t), v)
	case float64:
		return fromFloat(t, v)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, &TagError{Value: v, Err: err}
		}
		return Tag(n), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, &TagError{Value: v, Err: err}
		}
		return Tag(n), nil
	default:
		return 0, &TagError{Value: v, Err: fmt.Errorf("unsupported type %T", v)}
	}
}

func fromUint(u uint64, raw any) (Tag, error) {
	if u > math.MaxInt64 {
		return 0, &TagError{Value: raw, Err: fmt.Errorf("value overflows int64")}
	}
	return Tag(u), nil
}

func fromFloat(f float64, raw any) (Tag, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, &TagError{Value: raw, Err: fmt.Errorf("value is not integral")}
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, &TagError{Value: raw, Err: fmt.Errorf("value overflows int64")}
	}
	return Tag(f), nil
}
