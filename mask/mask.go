// Package mask hides secrets in log output.
package mask

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// Mask keeps the first half of s and replaces the rest with asterisks.
func Mask(s string) string {
	switch l := len(s); l {
	case 0:
		return s
	case 1:
		return "*"
	default:
		h := l / 2
		return s[:h] + strings.Repeat("*", l-h)
	}
}

// URL masks the credentials and query values of raw. Scheme, host and path
// are kept so a redis url still shows which server and db are used. Input
// that does not parse as an absolute url is masked whole.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Mask(raw)
	}
	var sb strings.Builder
	sb.WriteString(u.Scheme)
	sb.WriteString("://")
	if u.User != nil {
		sb.WriteString(Mask(u.User.Username()))
		if pass, ok := u.User.Password(); ok {
			sb.WriteString(":")
			sb.WriteString(Mask(pass))
		}
		sb.WriteString("@")
	}
	sb.WriteString(u.Host)
	sb.WriteString(u.EscapedPath())
	if q := u.Query(); len(q) > 0 {
		pairs := make([]string, 0, len(q))
		for k, v := range q {
			pairs = append(pairs, k+"="+Mask(strings.Join(v, ",")))
		}
		sort.Strings(pairs)
		sb.WriteString("?")
		sb.WriteString(strings.Join(pairs, "&"))
	}
	return sb.String()
}

// String holds a secret. It prints masked through fmt and encoding.TextMarshaler
// but keeps its real value in JSON and YAML so configs round trip.
type String string

// Text returns the real value.
func (s String) Text() string {
	return string(s)
}

func (s String) String() string {
	return Mask(string(s))
}

func (s String) GoString() string {
	return s.String()
}

func (s String) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s String) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

func (s String) MarshalYAML() (any, error) {
	return string(s), nil
}
