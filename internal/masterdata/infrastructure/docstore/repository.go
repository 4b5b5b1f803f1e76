package docstore

import (
	"context"
	"errors"
	"time"

	"condo-water/internal/docstore"
	masterdata "condo-water/internal/masterdata/domain"
)

const (
	condosCollection = "condos"
	unitsCollection  = "units"
)

type condoDocument struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type unitDocument struct {
	ID        string    `json:"id"`
	CondoID   string    `json:"condoId"`
	Label     string    `json:"label"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Repository stores condos and units as documents.
type Repository struct {
	store docstore.Store
}

// NewRepository constructs a repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// GetCondo loads a condo.
func (r *Repository) GetCondo(ctx context.Context, id string) (*masterdata.Condo, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("masterdata repo: nil store")
	}
	doc, err := r.store.Get(ctx, condosCollection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var stored condoDocument
	if err := doc.Decode(&stored); err != nil {
		return nil, err
	}
	return &masterdata.Condo{
		ID:        stored.ID,
		Name:      stored.Name,
		Address:   stored.Address,
		CreatedAt: stored.CreatedAt.UTC(),
		UpdatedAt: stored.UpdatedAt.UTC(),
	}, nil
}

// SaveCondo upserts a condo.
func (r *Repository) SaveCondo(ctx context.Context, condo *masterdata.Condo) error {
	if r == nil || r.store == nil {
		return errors.New("masterdata repo: nil store")
	}
	if condo == nil {
		return errors.New("masterdata repo: nil condo")
	}
	if err := condo.Validate(); err != nil {
		return err
	}
	return r.store.Commit(ctx, docstore.NewBatch().Set(condosCollection, condo.ID, condoDocument{
		ID:        condo.ID,
		Name:      condo.Name,
		Address:   condo.Address,
		CreatedAt: condo.CreatedAt.UTC(),
		UpdatedAt: condo.UpdatedAt.UTC(),
	}))
}

// GetUnit loads a unit.
func (r *Repository) GetUnit(ctx context.Context, id string) (*masterdata.Unit, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("masterdata repo: nil store")
	}
	doc, err := r.store.Get(ctx, unitsCollection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	unit, err := decodeUnit(*doc)
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// SaveUnit upserts a unit.
func (r *Repository) SaveUnit(ctx context.Context, unit *masterdata.Unit) error {
	if r == nil || r.store == nil {
		return errors.New("masterdata repo: nil store")
	}
	if unit == nil {
		return errors.New("masterdata repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	return r.store.Commit(ctx, docstore.NewBatch().Set(unitsCollection, unit.ID, unitDocument{
		ID:        unit.ID,
		CondoID:   unit.CondoID,
		Label:     unit.Label,
		IsActive:  unit.IsActive,
		CreatedAt: unit.CreatedAt.UTC(),
		UpdatedAt: unit.UpdatedAt.UTC(),
	}))
}

// ListUnits returns every unit of a condo ordered by label.
func (r *Repository) ListUnits(ctx context.Context, condoID string) ([]masterdata.Unit, error) {
	return r.listUnits(ctx, docstore.Query{Collection: unitsCollection, OrderBy: "label"}.Where("condoId", condoID))
}

// ListActiveUnits returns the active units of a condo ordered by label.
func (r *Repository) ListActiveUnits(ctx context.Context, condoID string) ([]masterdata.Unit, error) {
	return r.listUnits(ctx, docstore.Query{Collection: unitsCollection, OrderBy: "label"}.
		Where("condoId", condoID).
		Where("isActive", "true"))
}

func (r *Repository) listUnits(ctx context.Context, q docstore.Query) ([]masterdata.Unit, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("masterdata repo: nil store")
	}
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	units := make([]masterdata.Unit, 0, len(docs))
	for _, doc := range docs {
		unit, err := decodeUnit(doc)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

func decodeUnit(doc docstore.Document) (masterdata.Unit, error) {
	var stored unitDocument
	if err := doc.Decode(&stored); err != nil {
		return masterdata.Unit{}, err
	}
	return masterdata.Unit{
		ID:        stored.ID,
		CondoID:   stored.CondoID,
		Label:     stored.Label,
		IsActive:  stored.IsActive,
		CreatedAt: stored.CreatedAt.UTC(),
		UpdatedAt: stored.UpdatedAt.UTC(),
	}, nil
}
