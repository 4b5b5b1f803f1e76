package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"condo-water/internal/docstore/memory"
	masterdata "condo-water/internal/masterdata/domain"
	mdstore "condo-water/internal/masterdata/infrastructure/docstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	now := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	svc, err := NewService(mdstore.NewRepository(memory.NewStore()), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestService_ActiveUnitsExcludesInactive(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.RegisterCondo(ctx, "c-1", "Torre Norte", "Av. 1"); err != nil {
		t.Fatalf("register condo: %v", err)
	}
	for _, id := range []string{"u-1", "u-2", "u-3"} {
		if _, err := svc.RegisterUnit(ctx, "c-1", id, "Apto "+id); err != nil {
			t.Fatalf("register unit %s: %v", id, err)
		}
	}
	if _, err := svc.SetUnitActive(ctx, "u-2", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	ids, err := svc.ActiveUnits(ctx, "c-1")
	if err != nil {
		t.Fatalf("active units: %v", err)
	}
	if len(ids) != 2 || ids[0] != "u-1" || ids[1] != "u-3" {
		t.Fatalf("unexpected active units: %v", ids)
	}

	all, err := svc.ListUnits(ctx, "c-1")
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 units, got %d", len(all))
	}
}

func TestService_RegisterUnitRequiresCondo(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.RegisterUnit(context.Background(), "missing", "u-1", "Apto 1")
	if !errors.Is(err, masterdata.ErrCondoNotFound) {
		t.Fatalf("expected condo not found, got %v", err)
	}
}

func TestService_RegisterCondoGeneratesID(t *testing.T) {
	svc := newTestService(t)
	condo, err := svc.RegisterCondo(context.Background(), "", "Jardins", "")
	if err != nil {
		t.Fatalf("register condo: %v", err)
	}
	if condo.ID == "" {
		t.Fatalf("expected generated id")
	}
	if _, err := svc.RegisterCondo(context.Background(), "c-2", " ", ""); !errors.Is(err, masterdata.ErrInvalid) {
		t.Fatalf("expected validation error for empty name")
	}
}
