package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotSingle is returned by DecodeOne for a non-empty collection with more
// than one item.
var ErrNotSingle = errors.New("expected a single object")

// DecodeList reads the registry's list convention:
//   - {"count": 0}                 -> empty
//   - {"count": n, "items": [...]} -> items
//   - {...}                        -> one element
//
// A bare JSON array is also accepted.
func DecodeList[T any](raw []byte) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []T{}, nil
	}
	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		if items == nil {
			items = []T{}
		}
		return items, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	countRaw, isCollection := probe["count"]
	if !isCollection {
		var one T
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		return []T{one}, nil
	}

	var count int
	if err := json.Unmarshal(countRaw, &count); err != nil {
		return nil, fmt.Errorf("decode count: %w", err)
	}
	if count == 0 {
		return []T{}, nil
	}
	var items []T
	if itemsRaw, ok := probe["items"]; ok {
		if err := json.Unmarshal(itemsRaw, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// DecodeOne accepts a bare object or a collection of exactly one item.
func DecodeOne[T any](raw []byte) (T, error) {
	var zero T
	items, err := DecodeList[T](raw)
	if err != nil {
		return zero, err
	}
	if len(items) != 1 {
		return zero, fmt.Errorf("%w: got %d items", ErrNotSingle, len(items))
	}
	return items[0], nil
}

// timestamp accepts RFC 3339 strings and epoch milliseconds, and always
// writes RFC 3339.
type timestamp struct {
	time.Time
}

func newTimestamp(t *time.Time) *timestamp {
	if t == nil {
		return nil
	}
	return &timestamp{Time: t.UTC()}
}

func (t *timestamp) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

func (t timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", b, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}
