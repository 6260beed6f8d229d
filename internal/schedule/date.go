package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrDateParse marks a lane field whose value cannot be read as an instant.
var ErrDateParse = errors.New("unparseable date field")

// ResolveDate turns a field value into a UTC instant. Locale maps resolve
// to the value under the lexicographically smallest locale code whose value
// is not null. Strings without a zone are read as UTC.
func ResolveDate(value any) (time.Time, error) {
	switch v := value.(type) {
	case string:
		return ParseDate(v)
	case time.Time:
		return v.UTC(), nil
	case map[string]any:
		locale, ok := firstLocale(v)
		if !ok {
			return time.Time{}, fmt.Errorf("%w: no locale holds a value", ErrDateParse)
		}
		s, ok := v[locale].(string)
		if !ok {
			return time.Time{}, fmt.Errorf("%w: locale %s holds %T", ErrDateParse, locale, v[locale])
		}
		return ParseDate(s)
	case map[string]string:
		generic := make(map[string]any, len(v))
		for k, s := range v {
			generic[k] = s
		}
		return ResolveDate(generic)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported value type %T", ErrDateParse, value)
	}
}

// ParseDate parses a date string permissively (ISO-8601 with offsets or
// "Z", RFC 1123, plain dates and the other layouts dateparse knows).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrDateParse)
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrDateParse, s, err)
	}
	return t.UTC(), nil
}

// firstLocale picks the smallest locale code with a non-null value.
func firstLocale(m map[string]any) (string, bool) {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v != nil {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	sort.Strings(keys)
	return keys[0], true
}
