package main

import (
	"context"
	"testing"

	"putting-live/apps/server/internal/store"
)

func TestNextPlayerID_ContinuesAfterExistingCheckins(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	if got := nextPlayerID(nil); got != 1 {
		t.Fatalf("expected 1 for an empty competition, got %d", got)
	}
	for i, name := range []string{"Ann", "Ben"} {
		if _, err := st.CreateCheckin(ctx, 1, int64(i+1), name); err != nil {
			t.Fatalf("CreateCheckin err: %v", err)
		}
	}
	existing, err := st.Checkins(ctx, 1)
	if err != nil {
		t.Fatalf("Checkins err: %v", err)
	}
	if got := nextPlayerID(existing); got != 3 {
		t.Fatalf("expected second batch to start at 3, got %d", got)
	}
}
