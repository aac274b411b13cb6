package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the declared type of an option value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindInt64
	KindFloat
	KindBool
	KindDuration
	KindStrings
	KindInts
	KindStringSet
	KindStringMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindInt64:
		return "int64"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDuration:
		return "duration"
	case KindStrings:
		return "list"
	case KindInts:
		return "int-list"
	case KindStringSet:
		return "set"
	case KindStringMap:
		return "map"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool {
	return k >= KindString && k <= KindStringMap
}

// flag reports whether a bare option without a value is meaningful.
func (k Kind) flag() bool {
	return k == KindBool
}

// zero returns the value bound when an optional option is absent.
func (k Kind) zero() any {
	switch k {
	case KindInt:
		return 0
	case KindInt64:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindBool:
		return false
	case KindDuration:
		return time.Duration(0)
	case KindStrings, KindStringSet:
		return []string(nil)
	case KindInts:
		return []int(nil)
	case KindStringMap:
		return map[string]string(nil)
	default:
		return ""
	}
}

// convert parses raw into the Go value of k. Collections are comma
// separated; maps are comma separated key=value pairs.
func (k Kind) convert(raw string) (any, error) {
	switch k {
	case KindString:
		return raw, nil
	case KindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid int value %q", raw)
		}
		return n, nil
	case KindInt64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int64 value %q", raw)
		}
		return n, nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value %q", raw)
		}
		return f, nil
	case KindBool:
		if strings.TrimSpace(raw) == "" {
			return true, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid bool value %q", raw)
		}
		return b, nil
	case KindDuration:
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid duration value %q", raw)
		}
		return d, nil
	case KindStrings:
		return splitList(raw), nil
	case KindStringSet:
		items := splitList(raw)
		seen := make(map[string]struct{}, len(items))
		out := items[:0]
		for _, item := range items {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
		return out, nil
	case KindInts:
		items := splitList(raw)
		out := make([]int, 0, len(items))
		for _, item := range items {
			n, err := strconv.Atoi(item)
			if err != nil {
				return nil, fmt.Errorf("invalid int element %q", item)
			}
			out = append(out, n)
		}
		return out, nil
	case KindStringMap:
		items := splitList(raw)
		out := make(map[string]string, len(items))
		for _, item := range items {
			key, value, ok := strings.Cut(item, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid map entry %q, expected key=value", item)
			}
			out[key] = strings.TrimSpace(value)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported kind %d", k)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
