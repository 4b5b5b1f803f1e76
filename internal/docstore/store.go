package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists is returned when creating a document that exists.
	ErrAlreadyExists = errors.New("docstore: document already exists")
	// ErrPreconditionFailed is returned when a guarded write does not match.
	ErrPreconditionFailed = errors.New("docstore: precondition failed")
	// ErrEmptyBatch is returned when committing a batch without writes.
	ErrEmptyBatch = errors.New("docstore: empty batch")
	// ErrInvalidKey is returned for empty collection or id values.
	ErrInvalidKey = errors.New("docstore: invalid key")
)

// Document is a JSON document addressed by collection and id.
type Document struct {
	Collection string
	ID         string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Decode unmarshals the document payload into dest.
func (d Document) Decode(dest any) error {
	if len(d.Data) == 0 {
		return fmt.Errorf("docstore: empty document %s/%s", d.Collection, d.ID)
	}
	return json.Unmarshal(d.Data, dest)
}

// Filter is a top-level field equality condition.
// Values are compared in their text form (strings unquoted, booleans as true/false).
type Filter struct {
	Field  string
	Equals string
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Where appends an equality filter.
func (q Query) Where(field, equals string) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Equals: equals})
	return q
}

// Precondition guards a write on the current value of a field.
type Precondition struct {
	Field  string
	Equals string
}

// OpKind is the type of a batched write.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpSet    OpKind = "set"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is a single write inside a batch.
type Op struct {
	Kind         OpKind
	Collection   string
	ID           string
	Data         json.RawMessage
	Precondition *Precondition
}

// Batch collects writes committed atomically by Store.Commit.
type Batch struct {
	ops []Op
	err error
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Create adds a write that fails when the document already exists.
func (b *Batch) Create(collection, id string, value any) *Batch {
	return b.add(OpCreate, collection, id, value, nil)
}

// Set adds an upsert.
func (b *Batch) Set(collection, id string, value any) *Batch {
	return b.add(OpSet, collection, id, value, nil)
}

// Update adds an overwrite of an existing document guarded by pre (optional).
func (b *Batch) Update(collection, id string, value any, pre *Precondition) *Batch {
	return b.add(OpUpdate, collection, id, value, pre)
}

// Delete adds a removal. Missing documents are ignored.
func (b *Batch) Delete(collection, id string) *Batch {
	if b.err != nil {
		return b
	}
	if collection == "" || id == "" {
		b.err = ErrInvalidKey
		return b
	}
	b.ops = append(b.ops, Op{Kind: OpDelete, Collection: collection, ID: id})
	return b
}

// Ops returns a copy of the batched writes.
func (b *Batch) Ops() []Op {
	if b == nil {
		return nil
	}
	return append([]Op(nil), b.ops...)
}

// Len returns the number of batched writes.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

// Err returns the first error recorded while building the batch.
func (b *Batch) Err() error {
	if b == nil {
		return ErrEmptyBatch
	}
	return b.err
}

func (b *Batch) add(kind OpKind, collection, id string, value any, pre *Precondition) *Batch {
	if b.err != nil {
		return b
	}
	if collection == "" || id == "" {
		b.err = ErrInvalidKey
		return b
	}
	data, err := marshal(value)
	if err != nil {
		b.err = fmt.Errorf("docstore: marshal %s/%s: %w", collection, id, err)
		return b
	}
	b.ops = append(b.ops, Op{Kind: kind, Collection: collection, ID: id, Data: data, Precondition: pre})
	return b
}

func marshal(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(value)
	}
}

// Store is the document store used by the repositories.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Commit(ctx context.Context, batch *Batch) error
}

// FieldText returns the text form of a top-level field, matching what a
// Filter or Precondition compares against. Null and absent fields report false.
func FieldText(data json.RawMessage, field string) (string, bool) {
	if len(data) == 0 || field == "" {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[field]
	if !ok {
		return "", false
	}
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return "", false
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return text, true
}

// ValidateQuery checks the minimal query invariants shared by implementations.
func ValidateQuery(q Query) error {
	if q.Collection == "" {
		return ErrInvalidKey
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return errors.New("docstore: empty filter field")
		}
	}
	if q.Limit < 0 {
		return errors.New("docstore: negative limit")
	}
	return nil
}
