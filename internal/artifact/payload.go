package artifact

import "fmt"

// Object is one JSON-LD node as produced by encoding/json.
type Object = map[string]any

// DecodeError reports a payload whose top-level shape is neither an object
// nor an array of objects.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode json-ld payload: " + e.Reason
}

// Payload is either a single JSON-LD object or a sequence of them.
type Payload struct {
	objects []Object
	many    bool
}

// Single wraps one object.
func Single(obj Object) Payload {
	return Payload{objects: []Object{obj}}
}

// Many wraps a sequence of objects.
func Many(objs []Object) Payload {
	return Payload{objects: objs, many: true}
}

// IsMany reports whether the payload was a top-level array.
func (p Payload) IsMany() bool {
	return p.many
}

// Objects returns the payload normalized to a sequence.
func (p Payload) Objects() []Object {
	return p.objects
}

// NewPayload validates the top-level shape of a parsed JSON value.
func NewPayload(v any) (Payload, error) {
	switch typed := v.(type) {
	case map[string]any:
		return Single(typed), nil
	case []any:
		objs := make([]Object, 0, len(typed))
		for i, entry := range typed {
			obj, ok := entry.(map[string]any)
			if !ok {
				return Payload{}, &DecodeError{Reason: fmt.Sprintf("array entry %d is %s, want object", i, kindOf(entry))}
			}
			objs = append(objs, obj)
		}
		return Many(objs), nil
	default:
		return Payload{}, &DecodeError{Reason: fmt.Sprintf("top-level value is %s, want object or array", kindOf(v))}
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
