package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ModelRef addresses a model inside a model registry.
type ModelRef struct {
	RegistryID int64
	ModelID    string
}

func (m ModelRef) Validate() error {
	if m.RegistryID <= 0 {
		return errors.New("model registry id is required")
	}
	if strings.TrimSpace(m.ModelID) == "" {
		return errors.New("model id is required")
	}
	return nil
}

func (m ModelRef) RegistryIDString() string {
	return strconv.FormatInt(m.RegistryID, 10)
}

// Tag is a name/value pair; the value is any JSON document. On the wire the
// value travels as a JSON-encoded string.
type Tag struct {
	Name  string
	Value json.RawMessage
}

type tagWire struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (t Tag) MarshalJSON() ([]byte, error) {
	return json.Marshal(tagWire{Name: t.Name, Value: string(t.Value)})
}

func (t *Tag) UnmarshalJSON(b []byte) error {
	var w tagWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t.Name = w.Name
	if json.Valid([]byte(w.Value)) {
		t.Value = json.RawMessage(w.Value)
		return nil
	}
	// Plain strings are stored unquoted by older servers.
	quoted, err := json.Marshal(w.Value)
	if err != nil {
		return fmt.Errorf("tag %s value: %w", w.Name, err)
	}
	t.Value = quoted
	return nil
}

// DecodeTags folds a tag listing into a name -> value map.
func DecodeTags(raw []byte) (map[string]json.RawMessage, error) {
	tags, err := DecodeList[Tag](raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(tags))
	for _, t := range tags {
		out[t.Name] = t.Value
	}
	return out, nil
}
