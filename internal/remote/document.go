package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Collections
const (
	GroupsCollection      = "groups"
	DiscussionsCollection = "discussions"
)

// MessagesCollection is the message collection of a group.
func MessagesCollection(groupID string) string {
	return GroupsCollection + "/" + groupID + "/messages"
}

// CommentsCollection is the comment collection of a discussion.
func CommentsCollection(discussionID string) string {
	return DiscussionsCollection + "/" + discussionID + "/comments"
}

// ParentID returns the id of the document owning a subcollection, or "" for
// a top-level collection.
func ParentID(collection string) string {
	parts := strings.Split(collection, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}

// TimestampLayout is the fixed-width UTC layout of server timestamps. Fixed
// width keeps lexical and chronological order identical.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t the way the store writes server timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Document is one stored document.
type Document struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
}

// Path is the full slash-separated path of the document.
func (d Document) Path() string {
	return d.Collection + "/" + d.ID
}

// Decode unmarshals the document data into v. The document id is exposed
// to v as the "id" field.
func (d Document) Decode(v any) error {
	data := make(map[string]any, len(d.Data)+1)
	for k, val := range d.Data {
		data[k] = val
	}
	data["id"] = d.ID
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", d.Path(), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path(), err)
	}
	return nil
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	return Document{Collection: d.Collection, ID: d.ID, Data: cloneMap(d.Data)}
}

// ToData converts a struct into document data through its JSON encoding.
// The "id" field is dropped; ids are part of the document address.
func ToData(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("to data: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("to data: %w", err)
	}
	delete(data, "id")
	return data, nil
}

// normalizeData round-trips data through encoding/json.
func normalizeData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return out, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
