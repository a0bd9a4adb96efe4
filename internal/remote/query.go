package remote

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FilterOp is a comparison operator.
type FilterOp string

const (
	OpEqual         FilterOp = "=="
	OpNotEqual      FilterOp = "!="
	OpLess          FilterOp = "<"
	OpLessEqual     FilterOp = "<="
	OpGreater       FilterOp = ">"
	OpGreaterEqual  FilterOp = ">="
	OpArrayContains FilterOp = "array-contains"
)

// FieldID filters and orders on the document id instead of a data field.
const FieldID = "__id__"

// Filter restricts a query to documents whose field satisfies Op Value.
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Order sorts results by one field.
type Order struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction,omitempty"`
}

// Query describes a live or one-shot query over one collection.
//
// Results are sorted by OrderBy and then by document id ascending, so every
// query has a total order.
type Query struct {
	Collection string   `json:"collection"`
	Where      []Filter `json:"where,omitempty"`
	OrderBy    []Order  `json:"orderBy,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Collection returns a query for every document in a collection.
func Collection(path string) Query {
	return Query{Collection: path}
}

// WhereField returns a copy of q with an extra filter.
func (q Query) WhereField(field string, op FilterOp, value any) Query {
	q.Where = append(append([]Filter(nil), q.Where...), Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderedBy returns a copy of q with an extra sort key.
func (q Query) OrderedBy(field string, dir Direction) Query {
	q.OrderBy = append(append([]Order(nil), q.OrderBy...), Order{Field: field, Direction: dir})
	return q
}

// Validate checks the query's shape. At most one array-contains filter is
// allowed.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: query has no collection", ErrInvalid)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalid, q.Limit)
	}
	contains := 0
	for _, f := range q.Where {
		if f.Field == "" {
			return fmt.Errorf("%w: filter has no field", ErrInvalid)
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		case OpArrayContains:
			contains++
		default:
			return fmt.Errorf("%w: unknown filter op %q", ErrInvalid, f.Op)
		}
	}
	if contains > 1 {
		return fmt.Errorf("%w: at most one array-contains filter", ErrInvalid)
	}
	for _, o := range q.OrderBy {
		if o.Field == "" {
			return fmt.Errorf("%w: order has no field", ErrInvalid)
		}
		switch o.Direction {
		case "", Asc, Desc:
		default:
			return fmt.Errorf("%w: unknown direction %q", ErrInvalid, o.Direction)
		}
	}
	return nil
}

// String renders q for logs.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Where {
		fmt.Fprintf(&b, " where %s %s %v", f.Field, f.Op, f.Value)
	}
	for _, o := range q.OrderBy {
		dir := o.Direction
		if dir == "" {
			dir = Asc
		}
		fmt.Fprintf(&b, " order %s %s", o.Field, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", q.Limit)
	}
	return b.String()
}

// Matches reports whether doc satisfies every filter of q.
func (q Query) Matches(doc Document) bool {
	if doc.Collection != q.Collection {
		return false
	}
	for _, f := range q.Where {
		if !f.matches(fieldValue(doc, f.Field)) {
			return false
		}
	}
	return true
}

func (f Filter) matches(v any) bool {
	want, err := normalizeValue(f.Value)
	if err != nil {
		return false
	}
	switch f.Op {
	case OpArrayContains:
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		for _, e := range arr {
			if compareValues(e, want) == 0 {
				return true
			}
		}
		return false
	case OpEqual:
		return compareValues(v, want) == 0
	case OpNotEqual:
		return compareValues(v, want) != 0
	}
	if v == nil || typeRank(v) != typeRank(want) {
		return false
	}
	c := compareValues(v, want)
	switch f.Op {
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

// Apply filters, sorts and limits docs.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return q.compare(out[i], out[j]) < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (q Query) compare(a, b Document) int {
	for _, o := range q.OrderBy {
		c := compareValues(fieldValue(a, o.Field), fieldValue(b, o.Field))
		if o.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

func fieldValue(doc Document, field string) any {
	if field == FieldID {
		return doc.ID
	}
	return doc.Data[field]
}

// typeRank orders values of different types: null < bool < number <
// string < array < object.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, int, int64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	default:
		return 5
	}
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64, int, int64:
		fx, fy := toFloat(a), toFloat(b)
		switch {
		case fx < fy:
			return -1
		case fx > fy:
			return 1
		default:
			return 0
		}
	case string:
		y := b.(string)
		if tx, err := time.Parse(time.RFC3339Nano, x); err == nil {
			if ty, err := time.Parse(time.RFC3339Nano, y); err == nil {
				return tx.Compare(ty)
			}
		}
		return strings.Compare(x, y)
	case []any:
		y := b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compareValues(x[i], y[i]); c != 0 {
				return c
			}
		}
		return len(x) - len(y)
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
