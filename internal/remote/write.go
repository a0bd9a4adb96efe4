package remote

import "fmt"

// WriteOp is the kind of a write.
type WriteOp string

const (
	// OpSet replaces the document, creating it if needed.
	OpSet WriteOp = "set"
	// OpCreate creates the document and fails if it exists.
	OpCreate WriteOp = "create"
	// OpUpdate merges fields into an existing document.
	OpUpdate WriteOp = "update"
)

// TransformKind names a field transform resolved by the store.
type TransformKind string

const (
	TransformServerTimestamp TransformKind = "serverTimestamp"
	TransformArrayUnion      TransformKind = "arrayUnion"
	TransformIncrement       TransformKind = "increment"
)

// Transform is applied to one field after the write's data.
type Transform struct {
	Field  string        `json:"field"`
	Kind   TransformKind `json:"kind"`
	Values []any         `json:"values,omitempty"`
	Delta  int64         `json:"delta,omitempty"`
}

// ServerTimestamp sets field to the commit timestamp.
func ServerTimestamp(field string) Transform {
	return Transform{Field: field, Kind: TransformServerTimestamp}
}

// ArrayUnion adds values to the array in field, skipping values already
// present. A missing field becomes an array of the values.
func ArrayUnion(field string, values ...any) Transform {
	return Transform{Field: field, Kind: TransformArrayUnion, Values: values}
}

// Increment adds delta to the number in field. A missing field counts as 0.
func Increment(field string, delta int64) Transform {
	return Transform{Field: field, Kind: TransformIncrement, Delta: delta}
}

// Write is one element of a commit batch.
type Write struct {
	Op         WriteOp        `json:"op"`
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data,omitempty"`
	Transforms []Transform    `json:"transforms,omitempty"`
	// IfVersion, when non-zero, fails the whole batch with ErrConflict
	// unless the store is still at this version.
	IfVersion int64 `json:"ifVersion,omitempty"`
}

// Path is the full path of the written document.
func (w Write) Path() string {
	return w.Collection + "/" + w.ID
}

// Validate checks the write's shape.
func (w Write) Validate() error {
	switch w.Op {
	case OpSet, OpCreate, OpUpdate:
	default:
		return fmt.Errorf("%w: unknown write op %q", ErrInvalid, w.Op)
	}
	if w.Collection == "" || w.ID == "" {
		return fmt.Errorf("%w: write needs a collection and an id", ErrInvalid)
	}
	if w.IfVersion < 0 {
		return fmt.Errorf("%w: negative version precondition on %s", ErrInvalid, w.Path())
	}
	for _, t := range w.Transforms {
		if t.Field == "" {
			return fmt.Errorf("%w: transform on %s has no field", ErrInvalid, w.Path())
		}
		switch t.Kind {
		case TransformServerTimestamp, TransformArrayUnion, TransformIncrement:
		default:
			return fmt.Errorf("%w: unknown transform %q", ErrInvalid, t.Kind)
		}
	}
	return nil
}
