package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultNamespace versions every key so a change in the shape of cached
// values can be rolled out by bumping it.
const DefaultNamespace = "v1"

// Keyable is anything that has a canonical string form for cache keys.
type Keyable interface {
	CacheKey() string
}

// Arguments is implemented by fetch parameters so that a CachedFetcher can
// derive a key from them.
type Arguments interface {
	CacheArgs() (positional []Keyable, keyword map[string]Keyable)
}

// String is a Keyable string.
type String string

func (s String) CacheKey() string { return string(s) }

// Int is a Keyable int.
type Int int

func (i Int) CacheKey() string { return strconv.Itoa(int(i)) }

// Float is a Keyable float64.
type Float float64

func (f Float) CacheKey() string { return strconv.FormatFloat(float64(f), 'g', -1, 64) }

// Bool is a Keyable bool.
type Bool bool

func (b Bool) CacheKey() string { return strconv.FormatBool(bool(b)) }

type anyKey struct {
	v any
}

// Any adapts an arbitrary value. Maps are rendered as JSON (sorted keys);
// values JSON cannot encode fall back to their %#v form.
func Any(v any) Keyable {
	if k, ok := v.(Keyable); ok {
		return k
	}
	return anyKey{v}
}

func (a anyKey) CacheKey() string {
	switch v := a.v.(type) {
	case nil:
		return "<nil>"
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	}
	if data, err := json.Marshal(a.v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%#v", a.v)
}

func keyString(k Keyable) (s string) {
	if k == nil {
		return "<nil>"
	}
	defer func() {
		// a nil pointer receiver must not fail the request
		if r := recover(); r != nil {
			s = fmt.Sprintf("<%T>", k)
		}
	}()
	return k.CacheKey()
}

// KeyBuilder derives fixed-length cache keys from an operation and its arguments.
type KeyBuilder struct {
	Namespace string
}

// Build returns "<namespace>:<operation>:<md5 hex>". Keyword arguments are
// sorted by name so their order never changes the key. Build never fails.
func (b KeyBuilder) Build(operation string, positional []Keyable, keyword map[string]Keyable) string {
	var sb strings.Builder
	sb.WriteString(operation)
	sb.WriteByte(0)
	for _, arg := range positional {
		writeSegment(&sb, keyString(arg))
	}
	sb.WriteByte(0)
	names := make([]string, 0, len(keyword))
	for name := range keyword {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		writeSegment(&sb, name)
		writeSegment(&sb, keyString(keyword[name]))
	}
	sum := md5.Sum([]byte(sb.String()))

	ns := b.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + ":" + operation + ":" + hex.EncodeToString(sum[:])
}

// length prefixing keeps ("a,b") and ("a", "b") apart
func writeSegment(sb *strings.Builder, s string) {
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}

// BuildKey builds a key in DefaultNamespace.
func BuildKey(operation string, positional []Keyable, keyword map[string]Keyable) string {
	return KeyBuilder{}.Build(operation, positional, keyword)
}
