package audit

import (
	"context"
	"errors"
	"sort"
	"time"

	"condo-water/internal/docstore"
)

// Collection holds audit entries.
const Collection = "audit-logs"

// Repository writes audit logs to the document store.
type Repository struct {
	store docstore.Store
}

// NewRepository constructs an audit repository.
func NewRepository(store docstore.Store) *Repository {
	if store == nil {
		return nil
	}
	return &Repository{store: store}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.store == nil {
		return errors.New("audit repo: nil store")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return r.store.Commit(ctx, docstore.NewBatch().Create(Collection, entry.ID, entry))
}

// ListByResource returns the entries of one resource, oldest first.
func (r *Repository) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Entry, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("audit repo: nil store")
	}
	docs, err := r.store.Query(ctx, docstore.Query{Collection: Collection}.
		Where("resourceType", resourceType).
		Where("resourceId", resourceID))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		var entry Entry
		if err := doc.Decode(&entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}
