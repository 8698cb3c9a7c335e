package idempotency

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// GenerateKey builds a deterministic key from an operation name and its arguments.
//
// Nil arguments (including typed nil pointers) are dropped first, so a call that omits a
// trailing optional argument and one that passes it as nil produce the same key. The rest are
// encoded as a JSON array, so arguments that differ in type, count or content never share a
// key: "a:b" differs from ("a", "b"), and 1 differs from "1".
func GenerateKey(operation string, args ...any) string {
	kept := make([]any, 0, len(args))
	for _, a := range args {
		if isNil(a) {
			continue
		}
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		return operation
	}

	var b strings.Builder
	b.WriteString(operation)
	b.WriteString(":[")
	for i, a := range kept {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(encodeArg(a))
	}
	b.WriteByte(']')
	return b.String()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

// encodeArg returns the JSON encoding of v. Values JSON cannot represent (funcs, channels,
// cycles) are tagged with their Go type so they stay distinct from plain strings.
func encodeArg(v any) []byte {
	b, err := json.Marshal(v)
	if err == nil {
		return b
	}
	tagged, _ := json.Marshal(map[string]string{fmt.Sprintf("%T", v): fmt.Sprintf("%#v", v)})
	return tagged
}
