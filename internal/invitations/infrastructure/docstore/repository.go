package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"condo-water/internal/auth"
	"condo-water/internal/docstore"
	invitations "condo-water/internal/invitations/domain"
)

// Collection holds invitation documents.
const Collection = "invitations"

// sortableTime is fixed width so text ordering matches time ordering.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

var pendingGuard = &docstore.Precondition{Field: "status", Equals: string(invitations.StatusPending)}

type invitationDocument struct {
	Token       string     `json:"token"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	CondoID     string     `json:"condoId"`
	UnitID      string     `json:"unitId,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	Status      string     `json:"status"`
	CreatedAt   string     `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	CompletedBy string     `json:"completedBy,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Repository stores invitations as documents keyed by id.
type Repository struct {
	store docstore.Store
}

// NewRepository constructs a repository.
func NewRepository(store docstore.Store) (*Repository, error) {
	if store == nil {
		return nil, errors.New("invitation repo: nil store")
	}
	return &Repository{store: store}, nil
}

func toDocument(inv *invitations.Invitation) invitationDocument {
	return invitationDocument{
		Token:       inv.Token,
		Email:       inv.Email,
		Role:        string(inv.Role),
		CondoID:     inv.CondoID,
		UnitID:      inv.UnitID,
		CreatedBy:   inv.CreatedBy,
		Status:      string(inv.Status),
		CreatedAt:   inv.CreatedAt.UTC().Format(sortableTime),
		UpdatedAt:   inv.UpdatedAt.UTC(),
		ExpiresAt:   inv.ExpiresAt.UTC(),
		CompletedBy: inv.CompletedBy,
		CompletedAt: inv.CompletedAt,
	}
}

func decode(doc docstore.Document) (*invitations.Invitation, error) {
	var stored invitationDocument
	if err := doc.Decode(&stored); err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(sortableTime, stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invitation repo: decode %s created at: %w", doc.ID, err)
	}
	return &invitations.Invitation{
		ID:          doc.ID,
		Token:       stored.Token,
		Email:       stored.Email,
		Role:        auth.Role(stored.Role),
		CondoID:     stored.CondoID,
		UnitID:      stored.UnitID,
		CreatedBy:   stored.CreatedBy,
		Status:      invitations.Status(stored.Status),
		CreatedAt:   createdAt,
		UpdatedAt:   stored.UpdatedAt,
		ExpiresAt:   stored.ExpiresAt,
		CompletedBy: stored.CompletedBy,
		CompletedAt: stored.CompletedAt,
	}, nil
}

// Create inserts a new invitation.
func (r *Repository) Create(ctx context.Context, inv *invitations.Invitation) error {
	if inv == nil {
		return errors.New("invitation repo: nil invitation")
	}
	return r.store.Commit(ctx, docstore.NewBatch().Create(Collection, inv.ID, toDocument(inv)))
}

// Get loads an invitation by id.
func (r *Repository) Get(ctx context.Context, id string) (*invitations.Invitation, error) {
	doc, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decode(*doc)
}

// FindByToken loads the invitation carrying token.
func (r *Repository) FindByToken(ctx context.Context, token string) (*invitations.Invitation, error) {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: Collection, Limit: 1}.Where("token", token))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return decode(docs[0])
}

// Update overwrites an invitation that is still pending in the store.
func (r *Repository) Update(ctx context.Context, inv *invitations.Invitation) error {
	if inv == nil {
		return errors.New("invitation repo: nil invitation")
	}
	err := r.store.Commit(ctx, docstore.NewBatch().Update(Collection, inv.ID, toDocument(inv), pendingGuard))
	switch {
	case errors.Is(err, docstore.ErrPreconditionFailed):
		return fmt.Errorf("%w: %v", invitations.ErrConflict, err)
	case errors.Is(err, docstore.ErrNotFound):
		return invitations.ErrNotFound
	}
	return err
}

// ListPending returns pending invitations of a condo, newest first.
func (r *Repository) ListPending(ctx context.Context, condoID string) ([]invitations.Invitation, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: Collection,
		OrderBy:    "createdAt",
		Descending: true,
	}.Where("condoId", condoID).Where("status", string(invitations.StatusPending)))
	if err != nil {
		return nil, err
	}
	out := make([]invitations.Invitation, 0, len(docs))
	for _, doc := range docs {
		inv, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, nil
}
