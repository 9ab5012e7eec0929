package docstore

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC form timestamps take in stores without a native
// timestamp type. Fixed width keeps lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Snapshot struct {
	Ref
	Exists bool
	Data   Fields
}

func Missing(ref Ref) *Snapshot {
	return &Snapshot{Ref: ref}
}

func (s *Snapshot) String(field string) string {
	if s == nil || s.Data == nil {
		return ""
	}
	v, _ := s.Data[field].(string)
	return v
}

// Int reads a numeric field whatever integer or float type the backend decoded it as.
func (s *Snapshot) Int(field string) (int64, bool) {
	if s == nil || s.Data == nil {
		return 0, false
	}
	return toInt64(s.Data[field])
}

func (s *Snapshot) Time(field string) time.Time {
	if s == nil || s.Data == nil {
		return time.Time{}
	}
	return toTime(s.Data[field])
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	default:
		return 0, false
	}
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		if t == nil {
			return time.Time{}
		}
		return *t
	case string:
		if parsed, err := time.Parse(TimeLayout, t); err == nil {
			return parsed
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// Matches reports whether data satisfies every equality filter.
func Matches(data Fields, filters []Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || !equalValues(v, f.Value) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if ai, ok := toInt64(a); ok {
		bi, ok := toInt64(b)
		return ok && ai == bi
	}
	switch av := a.(type) {
	case time.Time:
		return av.Equal(toTime(b))
	default:
		return a == b
	}
}

// Arrange sorts and truncates snapshots the way the query asks. Backends without
// server-side ordering use it after filtering.
func Arrange(snaps []*Snapshot, q Query) []*Snapshot {
	if q.OrderBy != "" {
		sort.SliceStable(snaps, func(i, j int) bool {
			c := compareValues(snaps[i].Data[q.OrderBy], snaps[j].Data[q.OrderBy])
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	}
	if q.Limit > 0 && len(snaps) > q.Limit {
		snaps = snaps[:q.Limit]
	}
	return snaps
}

func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ai, ok := toInt64(a); ok {
		if bi, ok := toInt64(b); ok {
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			}
			return 0
		}
	}
	if at, ok := a.(time.Time); ok {
		bt := toTime(b)
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		}
		return 0
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return strings.Compare(as, bs)
}

// Clone copies the top-level map so callers cannot mutate stored state.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Resolve replaces ServerTimestamp sentinels with now.
func (f Fields) Resolve(now time.Time) Fields {
	out := f.Clone()
	for k, v := range out {
		if IsServerTimestamp(v) {
			out[k] = now
		}
	}
	return out
}
