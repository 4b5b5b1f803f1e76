package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"condo-water/internal/docstore"
)

// Store is an in-memory document store for demo/testing.
// Commits are all-or-nothing: every op is validated against a staged view
// before anything is applied.
type Store struct {
	mu      sync.RWMutex
	data    map[string]map[string]docstore.Document
	now     func() time.Time
	commits int
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]map[string]docstore.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Get loads a document by collection and id.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	_ = ctx
	if collection == "" || id == "" {
		return nil, docstore.ErrInvalidKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	copy := cloneDocument(doc)
	return &copy, nil
}

// Query returns matching documents ordered by the requested field.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	_ = ctx
	if err := docstore.ValidateQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	result := make([]docstore.Document, 0, len(s.data[q.Collection]))
	for _, doc := range s.data[q.Collection] {
		if matches(doc, q.Filters) {
			result = append(result, cloneDocument(doc))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		if q.OrderBy == "" {
			return result[i].ID < result[j].ID
		}
		left, _ := docstore.FieldText(result[i].Data, q.OrderBy)
		right, _ := docstore.FieldText(result[j].Data, q.OrderBy)
		if left == right {
			return result[i].ID < result[j].ID
		}
		if q.Descending {
			return left > right
		}
		return left < right
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

type stagedDoc struct {
	doc     docstore.Document
	present bool
}

// Commit applies every op of the batch or none of them.
func (s *Store) Commit(ctx context.Context, batch *docstore.Batch) error {
	_ = ctx
	if batch == nil || batch.Len() == 0 {
		return docstore.ErrEmptyBatch
	}
	if err := batch.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	staged := make(map[[2]string]stagedDoc)
	order := make([][2]string, 0, batch.Len())
	lookup := func(collection, id string) stagedDoc {
		key := [2]string{collection, id}
		if st, ok := staged[key]; ok {
			return st
		}
		doc, ok := s.data[collection][id]
		return stagedDoc{doc: doc, present: ok}
	}

	for _, op := range batch.Ops() {
		key := [2]string{op.Collection, op.ID}
		current := lookup(op.Collection, op.ID)

		if op.Precondition != nil {
			if !current.present {
				return docstore.ErrNotFound
			}
			value, ok := docstore.FieldText(current.doc.Data, op.Precondition.Field)
			if !ok || value != op.Precondition.Equals {
				return docstore.ErrPreconditionFailed
			}
		}

		next := stagedDoc{present: true}
		switch op.Kind {
		case docstore.OpCreate:
			if current.present {
				return docstore.ErrAlreadyExists
			}
			next.doc = docstore.Document{Collection: op.Collection, ID: op.ID, Data: copyBytes(op.Data), CreatedAt: now, UpdatedAt: now}
		case docstore.OpSet:
			created := now
			if current.present {
				created = current.doc.CreatedAt
			}
			next.doc = docstore.Document{Collection: op.Collection, ID: op.ID, Data: copyBytes(op.Data), CreatedAt: created, UpdatedAt: now}
		case docstore.OpUpdate:
			if !current.present {
				return docstore.ErrNotFound
			}
			next.doc = docstore.Document{Collection: op.Collection, ID: op.ID, Data: copyBytes(op.Data), CreatedAt: current.doc.CreatedAt, UpdatedAt: now}
		case docstore.OpDelete:
			next = stagedDoc{present: false}
		default:
			return docstore.ErrInvalidKey
		}

		if _, seen := staged[key]; !seen {
			order = append(order, key)
		}
		staged[key] = next
	}

	for _, key := range order {
		st := staged[key]
		if !st.present {
			delete(s.data[key[0]], key[1])
			continue
		}
		if s.data[key[0]] == nil {
			s.data[key[0]] = make(map[string]docstore.Document)
		}
		s.data[key[0]][key[1]] = st.doc
	}
	s.commits++
	return nil
}

// Commits returns the number of successful commits, for test assertions.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

func matches(doc docstore.Document, filters []docstore.Filter) bool {
	for _, f := range filters {
		value, ok := docstore.FieldText(doc.Data, f.Field)
		if !ok || value != f.Equals {
			return false
		}
	}
	return true
}

func cloneDocument(doc docstore.Document) docstore.Document {
	doc.Data = copyBytes(doc.Data)
	return doc
}

func copyBytes(data json.RawMessage) json.RawMessage {
	if data == nil {
		return nil
	}
	return append(json.RawMessage(nil), data...)
}
