package conflict

import (
	"testing"
	"time"

	"github.com/offlinehq/crmsync/internal/store"
)

func conflictOf(local, server map[string]any) *store.ConflictRecord {
	return &store.ConflictRecord{
		ID:         "c1",
		Collection: "leads",
		EntityID:   "l1",
		LocalData:  local,
		ServerData: server,
		DetectedAt: time.Now(),
		Status:     store.ConflictPending,
	}
}

func TestParseStrategy(t *testing.T) {
	for _, valid := range []string{"client_wins", "server_wins", "merge", "manual"} {
		if _, err := ParseStrategy(valid); err != nil {
			t.Errorf("ParseStrategy(%q) error = %v", valid, err)
		}
	}
	if _, err := ParseStrategy("newest"); err == nil {
		t.Error("ParseStrategy(newest) should fail")
	}
}

func TestClientWins(t *testing.T) {
	c := conflictOf(map[string]any{"name": "A"}, map[string]any{"name": "B"})

	resolved, ok := Resolve(c, ClientWins)
	if !ok {
		t.Fatal("client_wins should resolve")
	}
	if resolved["name"] != "A" {
		t.Errorf("name = %v, want A", resolved["name"])
	}
}

func TestServerWins(t *testing.T) {
	c := conflictOf(map[string]any{"name": "A"}, map[string]any{"name": "B"})

	resolved, ok := Resolve(c, ServerWins)
	if !ok {
		t.Fatal("server_wins should resolve")
	}
	if resolved["name"] != "B" {
		t.Errorf("name = %v, want B", resolved["name"])
	}
}

func TestManualReturnsNothing(t *testing.T) {
	c := conflictOf(map[string]any{"name": "A"}, map[string]any{"name": "B"})

	resolved, ok := Resolve(c, Manual)
	if ok || resolved != nil {
		t.Errorf("manual = (%v, %v), want (nil, false)", resolved, ok)
	}
}

func TestMergeNewerLocalWins(t *testing.T) {
	t1 := time.Now().UTC().Format(time.RFC3339)
	t2 := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

	c := conflictOf(
		map[string]any{"name": "A", "lastModified": t1},
		map[string]any{"name": "B", "lastModified": t2},
	)
	resolved, ok := Resolve(c, Merge)
	if !ok {
		t.Fatal("merge should resolve")
	}
	if resolved["name"] != "A" {
		t.Errorf("name = %v, want A (local is newer)", resolved["name"])
	}
}

func TestMergeNewerServerWins(t *testing.T) {
	t1 := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	t2 := time.Now().UTC().Format(time.RFC3339)

	c := conflictOf(
		map[string]any{"name": "A", "lastModified": t1},
		map[string]any{"name": "B", "lastModified": t2},
	)
	resolved, ok := Resolve(c, Merge)
	if !ok {
		t.Fatal("merge should resolve")
	}
	if resolved["name"] != "B" {
		t.Errorf("name = %v, want B (server is newer)", resolved["name"])
	}
}

func TestMergeUpdatedAtFallbackKey(t *testing.T) {
	newer := time.Now().UTC().Format(time.RFC3339)
	older := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

	c := conflictOf(
		map[string]any{"stage": "won", "updatedAt": newer},
		map[string]any{"stage": "open", "updatedAt": older},
	)
	resolved, _ := Resolve(c, Merge)
	if resolved["stage"] != "won" {
		t.Errorf("stage = %v, want won (updatedAt honored)", resolved["stage"])
	}
}

func TestMergeEpochMillisTimestamps(t *testing.T) {
	c := conflictOf(
		map[string]any{"amount": float64(300), "lastModified": float64(2_000_000)},
		map[string]any{"amount": float64(500), "lastModified": float64(1_000_000)},
	)
	resolved, _ := Resolve(c, Merge)
	if resolved["amount"] != float64(300) {
		t.Errorf("amount = %v, want 300 (local millis newer)", resolved["amount"])
	}
}

func TestMergeServerAuthoritativeFields(t *testing.T) {
	newer := time.Now().UTC().Format(time.RFC3339)
	older := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

	c := conflictOf(
		map[string]any{"id": "local-id", "createdAt": "2026-01-01", "name": "A", "lastModified": newer},
		map[string]any{"id": "server-id", "createdAt": "2025-01-01", "name": "B", "lastModified": older},
	)
	resolved, _ := Resolve(c, Merge)
	if resolved["id"] != "server-id" {
		t.Errorf("id = %v, want server-id", resolved["id"])
	}
	if resolved["createdAt"] != "2025-01-01" {
		t.Errorf("createdAt = %v, want server value", resolved["createdAt"])
	}
	if resolved["name"] != "A" {
		t.Errorf("name = %v, want A (local newer)", resolved["name"])
	}
}

func TestMergeLocalOnlyFieldKept(t *testing.T) {
	c := conflictOf(
		map[string]any{"notes": "call back monday"},
		map[string]any{"name": "B"},
	)
	resolved, _ := Resolve(c, Merge)
	if resolved["notes"] != "call back monday" {
		t.Errorf("notes = %v, want local-only field kept", resolved["notes"])
	}
	if resolved["name"] != "B" {
		t.Errorf("name = %v, want B", resolved["name"])
	}
}

func TestMergeMissingTimestampsFallback(t *testing.T) {
	// No parsable timestamps: non-empty side wins, server wins a tie.
	c := conflictOf(
		map[string]any{"phone": "555-1234", "name": "Local"},
		map[string]any{"phone": "", "name": "Server"},
	)
	resolved, _ := Resolve(c, Merge)
	if resolved["phone"] != "555-1234" {
		t.Errorf("phone = %v, want local (server side empty)", resolved["phone"])
	}
	if resolved["name"] != "Server" {
		t.Errorf("name = %v, want Server (both non-empty, server wins)", resolved["name"])
	}
}

func TestMergeUnparsableTimestampFallsBack(t *testing.T) {
	c := conflictOf(
		map[string]any{"name": "A", "lastModified": "not-a-date"},
		map[string]any{"name": "B", "lastModified": time.Now().UTC().Format(time.RFC3339)},
	)
	resolved, _ := Resolve(c, Merge)
	if resolved["name"] != "B" {
		t.Errorf("name = %v, want B (fallback prefers server)", resolved["name"])
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	local := map[string]any{"name": "A"}
	server := map[string]any{"name": "B", "stage": "open"}
	c := conflictOf(local, server)

	resolved, _ := Resolve(c, Merge)
	resolved["name"] = "mutated"

	if local["name"] != "A" || server["name"] != "B" {
		t.Error("Resolve mutated its inputs")
	}
}
