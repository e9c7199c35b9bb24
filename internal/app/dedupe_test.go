package app

import (
	"context"
	"testing"
)

func TestMemoryEventDeduper(t *testing.T) {
	d := NewMemoryEventDeduper()
	ctx := context.Background()

	if !d.MarkIfNew(ctx, "evt_1") {
		t.Fatal("first sighting must be new")
	}
	if d.MarkIfNew(ctx, "evt_1") {
		t.Fatal("second sighting must be a replay")
	}
	if !d.MarkIfNew(ctx, "evt_2") {
		t.Fatal("different event id must be new")
	}

	// Deliveries without an event id are never deduplicated.
	if !d.MarkIfNew(ctx, "") || !d.MarkIfNew(ctx, "") {
		t.Fatal("empty event id must always pass")
	}
}

func TestMemoryEventDeduperForget(t *testing.T) {
	d := NewMemoryEventDeduper()
	ctx := context.Background()

	d.MarkIfNew(ctx, "evt_fail")
	d.Forget(ctx, "evt_fail")
	if !d.MarkIfNew(ctx, "evt_fail") {
		t.Fatal("forgotten event id must be treated as new again")
	}
}
