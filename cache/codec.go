package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrEncode wraps failures to serialize a value for the distributed backend.
var ErrEncode = errors.New("cache: encode failed")

// Codec serializes values for the distributed backend.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes values as JSON. Values JSON cannot represent (channels,
// funcs, complex numbers, NaN) are stored as their fmt string form instead of
// failing the write.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err == nil {
		return data, nil
	}
	data, err = json.Marshal(stringify(reflect.ValueOf(v)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// stringify rebuilds v as plain maps, slices and scalars, replacing anything
// JSON rejects with its string form.
func stringify(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if v.CanInterface() {
		if _, ok := v.Interface().(json.Marshaler); ok {
			if data, err := json.Marshal(v.Interface()); err == nil {
				return json.RawMessage(data)
			}
		}
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return stringify(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = stringify(iter.Value())
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = stringify(v.Index(i))
		}
		return out
	case reflect.Struct:
		if v.CanInterface() {
			if data, err := json.Marshal(v.Interface()); err == nil {
				return json.RawMessage(data)
			}
		}
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			out[t.Field(i).Name] = stringify(v.Field(i))
		}
		return out
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Interface())
	}
	if v.CanInterface() {
		return v.Interface()
	}
	return fmt.Sprint(v)
}

// MsgpackCodec encodes values with msgpack. It is more compact than JSON but
// fails on values msgpack cannot represent.
type MsgpackCodec struct{}

var _ Codec = MsgpackCodec{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// Decode converts a value returned by a Store into T. In-process values are
// type asserted; Raw values from the distributed backend are decoded with codec.
func Decode[T any](codec Codec, val any) (T, error) {
	var zero T
	switch v := val.(type) {
	case T:
		return v, nil
	case Raw:
		var result T
		if err := codec.Unmarshal(v, &result); err != nil {
			return zero, fmt.Errorf("cache: failed to decode value: %w", err)
		}
		return result, nil
	}
	return zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}
