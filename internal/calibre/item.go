package calibre

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Custom columns holding access control data.
const (
	OwnerColumn   = "fxtl_owner"
	ReadersColumn = "fxtl_users"
)

// Item is one library record as returned by "calibredb list --for-machine".
// Fields the service does not interpret are kept verbatim in Fields.
type Item struct {
	ID          int
	Title       string
	Authors     string
	Tags        []string
	Identifiers map[string]string
	Formats     []string
	Owner       string
	Readers     []string
	Fields      map[string]json.RawMessage
}

// UnmarshalJSON decodes a calibredb record.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*it = Item{Fields: raw}

	if err := decodeField(raw, "id", &it.ID); err != nil {
		return err
	}
	if it.ID == 0 {
		return fmt.Errorf("record without id")
	}
	for key, dst := range map[string]any{
		"title":           &it.Title,
		"authors":         &it.Authors,
		"tags":            &it.Tags,
		"identifiers":     &it.Identifiers,
		"formats":         &it.Formats,
		"*" + OwnerColumn: &it.Owner,
	} {
		if err := decodeField(raw, key, dst); err != nil {
			return err
		}
	}
	readers, err := decodeList(raw["*"+ReadersColumn])
	if err != nil {
		return fmt.Errorf("field %q: %w", "*"+ReadersColumn, err)
	}
	it.Readers = readers
	it.Formats = canonicalFormats(it.Formats)
	return nil
}

// MarshalJSON writes every original field with the interpreted ones
// replaced by their canonical values.
func (it Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(it.Fields)+8)
	for k, v := range it.Fields {
		out[k] = v
	}
	out["id"] = it.ID
	out["title"] = it.Title
	out["authors"] = it.Authors
	out["tags"] = nonNil(it.Tags)
	out["identifiers"] = it.Identifiers
	if it.Identifiers == nil {
		out["identifiers"] = map[string]string{}
	}
	out["formats"] = nonNil(it.Formats)
	out["*"+OwnerColumn] = it.Owner
	out["*"+ReadersColumn] = nonNil(it.Readers)
	return json.Marshal(out)
}

// HasFormat reports whether the item has a file in format (case-insensitive).
func (it Item) HasFormat(format string) bool {
	for _, f := range it.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

func decodeField(raw map[string]json.RawMessage, key string, dst any) error {
	v, ok := raw[key]
	if !ok || string(v) == "null" {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	return nil
}

// decodeList accepts both a JSON list and a comma separated string. Libraries
// whose readers column was created without --is-multiple store the latter.
func decodeList(v json.RawMessage) ([]string, error) {
	if len(v) == 0 || string(v) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(v, &list); err == nil {
		return list, nil
	}
	var joined string
	if err := json.Unmarshal(v, &joined); err != nil {
		return nil, err
	}
	return splitList(joined), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// canonicalFormats turns exported file paths into upper-case extensions.
func canonicalFormats(paths []string) []string {
	if paths == nil {
		return nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if i := strings.LastIndex(p, "."); i >= 0 {
			p = p[i+1:]
		}
		out = append(out, strings.ToUpper(p))
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
