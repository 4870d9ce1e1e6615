package events

import (
	"fmt"
	"testing"
)

func TestSeenLogRecordsAndDeduplicates(t *testing.T) {
	t.Parallel()

	l := newSeenLog(10)
	if l.Seen("a") {
		t.Fatal("fresh log should not contain a")
	}
	l.Add("a")
	if !l.Seen("a") {
		t.Fatal("a should be seen after Add")
	}
	l.Add("a")
	if l.Len() != 1 {
		t.Fatalf("Len() = %d after duplicate Add, want 1", l.Len())
	}
	l.Add("")
	if l.Len() != 1 {
		t.Fatalf("Len() = %d after empty Add, want 1", l.Len())
	}
}

func TestSeenLogEvictsOldestBeyondCap(t *testing.T) {
	t.Parallel()

	const capacity = 100
	l := newSeenLog(capacity)
	for i := range capacity + 10 {
		l.Add(fmt.Sprintf("ev-%d", i))
	}

	if l.Len() != capacity {
		t.Fatalf("Len() = %d, want cap %d", l.Len(), capacity)
	}
	for i := range 10 {
		if l.Seen(fmt.Sprintf("ev-%d", i)) {
			t.Fatalf("ev-%d should have been evicted", i)
		}
	}
	if !l.Seen("ev-10") || !l.Seen(fmt.Sprintf("ev-%d", capacity+9)) {
		t.Fatal("newest cap entries should remain")
	}
}

func TestSeenLogSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	l := newSeenLog(5)
	for _, id := range []string{"a", "b", "c"} {
		l.Add(id)
	}

	snap := l.Snapshot()
	restored := newSeenLog(5)
	restored.Restore(snap)

	if restored.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", restored.Len())
	}
	for _, id := range []string{"a", "b", "c"} {
		if !restored.Seen(id) {
			t.Fatalf("%q missing after restore", id)
		}
	}
}

func TestSeenLogRestoreHonorsCap(t *testing.T) {
	t.Parallel()

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = fmt.Sprintf("ev-%d", i)
	}

	l := newSeenLog(5)
	l.Restore(ids)

	if l.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", l.Len())
	}
	if l.Seen("ev-0") || l.Seen("ev-2") {
		t.Fatal("oldest restored entries should be evicted")
	}
	if !l.Seen("ev-7") {
		t.Fatal("newest restored entry should remain")
	}
}
