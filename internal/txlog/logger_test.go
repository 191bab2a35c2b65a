package txlog

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, maxSnapshots int) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transactions.json")
	l, err := New(path, maxSnapshots, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, path
}

func TestTransactionIDFormat(t *testing.T) {
	idPattern := regexp.MustCompile(`^tx_\d+_[0-9a-f]{8}$`)

	a := newTransactionID("buffer")
	b := newTransactionID("buffer")
	if !idPattern.MatchString(a) {
		t.Errorf("id %q does not match tx_<unixtime>_<8 hex>", a)
	}
	if a == b {
		t.Errorf("consecutive ids collided: %q", a)
	}
}

func TestRecordAndSnapshotRoundtrip(t *testing.T) {
	l, _ := newTestLogger(t, 10)

	snap := &Snapshot{
		ActiveLayers:  []string{"roads", "rivers"},
		SelectedLayer: "roads",
	}
	tx, err := l.Record("buffer", map[string]any{"distance": 100.0}, []string{"roads"}, true, "ok", snap)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !tx.HasStateSnapshot {
		t.Error("transaction should carry a snapshot flag")
	}
	if !strings.HasPrefix(tx.ID, "tx_") {
		t.Errorf("id = %q", tx.ID)
	}

	got, err := l.GetStateSnapshot(tx.ID)
	if err != nil {
		t.Fatalf("GetStateSnapshot: %v", err)
	}
	if got.TransactionID != tx.ID {
		t.Errorf("snapshot transaction = %q, want %q", got.TransactionID, tx.ID)
	}
	if len(got.ActiveLayers) != 2 || got.SelectedLayer != "roads" {
		t.Errorf("snapshot state = %+v", got)
	}
}

func TestRecordWithoutSnapshot(t *testing.T) {
	l, _ := newTestLogger(t, 10)

	tx, err := l.Record("select", nil, nil, true, "", nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if tx.HasStateSnapshot {
		t.Error("snapshot flag set without a snapshot")
	}
	if _, err := l.GetStateSnapshot(tx.ID); err == nil {
		t.Error("want error for transaction without snapshot")
	}
}

func TestGetUnknownTransaction(t *testing.T) {
	l, _ := newTestLogger(t, 10)
	if _, err := l.Get("tx_0_deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, _, err := l.RollbackToTransaction("tx_0_deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rollback err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotPruning(t *testing.T) {
	l, _ := newTestLogger(t, 3)

	var ids []string
	for i := 0; i < 5; i++ {
		tx, err := l.Record("buffer", nil, nil, true, "", &Snapshot{SelectedLayer: "roads"})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		ids = append(ids, tx.ID)
	}

	// The two oldest snapshots are gone, flags corrected.
	for _, id := range ids[:2] {
		tx, err := l.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if tx.HasStateSnapshot {
			t.Errorf("pruned transaction %s still flagged", id)
		}
	}
	for _, id := range ids[2:] {
		if _, err := l.GetStateSnapshot(id); err != nil {
			t.Errorf("snapshot for %s should survive pruning: %v", id, err)
		}
	}

	files, err := filepath.Glob(filepath.Join(filepath.Dir(l.path), "snapshots", "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Errorf("snapshot files = %d, want 3", len(files))
	}
}

func TestMissingSnapshotFileCorrectsFlag(t *testing.T) {
	l, _ := newTestLogger(t, 10)

	tx, err := l.Record("buffer", nil, nil, true, "", &Snapshot{SelectedLayer: "roads"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := os.Remove(l.snapshotFile(tx.ID)); err != nil {
		t.Fatal(err)
	}

	if _, err := l.GetStateSnapshot(tx.ID); err == nil {
		t.Fatal("want error for missing snapshot file")
	}
	got, err := l.Get(tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.HasStateSnapshot {
		t.Error("flag should be corrected after a failed snapshot read")
	}
}

func TestGetLatestStateSnapshotSkipsCorrupt(t *testing.T) {
	l, _ := newTestLogger(t, 10)

	first, err := l.Record("buffer", nil, nil, true, "", &Snapshot{SelectedLayer: "first"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Record("clip", nil, nil, true, "", &Snapshot{SelectedLayer: "second"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(l.snapshotFile(second.ID), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, err := l.GetLatestStateSnapshot()
	if err != nil {
		t.Fatalf("GetLatestStateSnapshot: %v", err)
	}
	if snap.TransactionID != first.ID {
		t.Errorf("latest snapshot = %q, want the older intact one %q", snap.TransactionID, first.ID)
	}

	got, _ := l.Get(second.ID)
	if got.HasStateSnapshot {
		t.Error("corrupt snapshot flag should be corrected")
	}
}

func TestGetLatestStateSnapshotEmpty(t *testing.T) {
	l, _ := newTestLogger(t, 10)
	if _, err := l.GetLatestStateSnapshot(); err == nil {
		t.Error("want error when no snapshots exist")
	}
}

func TestRollbackToTransaction(t *testing.T) {
	l, _ := newTestLogger(t, 10)

	target, err := l.Record("buffer", nil, nil, true, "", &Snapshot{SelectedLayer: "roads"})
	if err != nil {
		t.Fatal(err)
	}
	mid, _ := l.Record("clip", nil, nil, true, "", nil)
	last, _ := l.Record("union", nil, nil, true, "", nil)

	snap, undone, err := l.RollbackToTransaction(target.ID)
	if err != nil {
		t.Fatalf("RollbackToTransaction: %v", err)
	}
	if snap.SelectedLayer != "roads" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(undone) != 2 {
		t.Fatalf("undone = %d transactions, want 2", len(undone))
	}
	if undone[0].ID != last.ID || undone[1].ID != mid.ID {
		t.Errorf("undone order = %s, %s; want newest first", undone[0].ID, undone[1].ID)
	}

	// The log itself is left intact.
	if got := l.RecentOperations(10); len(got) != 3 {
		t.Errorf("log length = %d after rollback query, want 3", len(got))
	}
}

func TestRecentOperationsNewestFirst(t *testing.T) {
	l, _ := newTestLogger(t, 10)

	l.Record("buffer", nil, nil, true, "", nil)
	l.Record("clip", nil, nil, false, "failed", nil)

	got := l.RecentOperations(5)
	if len(got) != 2 {
		t.Fatalf("operations = %d, want 2", len(got))
	}
	if got[0].Operation != "clip" || got[1].Operation != "buffer" {
		t.Errorf("order = %s, %s", got[0].Operation, got[1].Operation)
	}
	if got[0].Success {
		t.Error("failed transaction should keep success=false")
	}
}

func TestFindByType(t *testing.T) {
	l, _ := newTestLogger(t, 10)

	l.Record("buffer", nil, nil, true, "", nil)
	l.Record("clip", nil, nil, true, "", nil)
	l.Record("buffer", nil, nil, true, "", nil)

	if got := l.FindByType("buffer"); len(got) != 2 {
		t.Errorf("buffer transactions = %d, want 2", len(got))
	}
	if got := l.FindByType("union"); len(got) != 0 {
		t.Errorf("union transactions = %d, want 0", len(got))
	}
}

func TestLogPersistsAcrossReopen(t *testing.T) {
	l, path := newTestLogger(t, 10)

	tx, err := l.Record("buffer", nil, nil, true, "", &Snapshot{SelectedLayer: "roads"})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(path, 10, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	snap, err := reopened.GetStateSnapshot(tx.ID)
	if err != nil {
		t.Fatalf("snapshot after reopen: %v", err)
	}
	if snap.SelectedLayer != "roads" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCorruptLogIsBackedUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transactions.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := New(path, 10, nil)
	if err != nil {
		t.Fatalf("New on corrupt log: %v", err)
	}
	if got := l.RecentOperations(10); len(got) != 0 {
		t.Errorf("transactions = %d, want empty log", len(got))
	}

	backups, _ := filepath.Glob(path + ".bak.*")
	if len(backups) != 1 {
		t.Errorf("backups = %v, want one", backups)
	}
}
