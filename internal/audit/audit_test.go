package audit

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"condo-water/internal/docstore/memory"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	if got := ClientIP(req); got != "10.0.0.9" {
		t.Fatalf("remote addr: got %q", got)
	}
	req.Header.Set("X-Real-IP", "172.16.0.1")
	if got := ClientIP(req); got != "172.16.0.1" {
		t.Fatalf("real ip: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("forwarded: got %q", got)
	}
}

func TestRepository_LogAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(memory.NewStore())
	meta, _ := json.Marshal(map[string]any{"format": "pdf"})

	if err := repo.Log(ctx, Entry{Actor: "u-1", Action: "reading.export", ResourceType: "reading", ResourceID: "r-1", Metadata: meta}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := repo.Log(ctx, Entry{Actor: "u-1", Action: "reading.close", ResourceType: "reading", ResourceID: "r-2"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	entries, err := repo.ListByResource(ctx, "reading", "r-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "reading.export" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].PayloadDigest != DigestJSON(meta) || entries[0].ID == "" || entries[0].CreatedAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", entries[0])
	}
	if DigestJSON(nil) != "" {
		t.Fatalf("empty payload has no digest")
	}
}
