// Package txlog records executed operations as transactions with optional
// state snapshots, enabling rollback to any recorded point.
package txlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultMaxSnapshots is how many snapshot files are kept on disk. Older
// snapshots are pruned; their transactions stay in the log without state.
const DefaultMaxSnapshots = 10

// ErrNotFound is returned when no transaction matches the given ID.
var ErrNotFound = errors.New("transaction not found")

// Transaction is one recorded operation.
type Transaction struct {
	ID               string         `json:"id"`
	Timestamp        time.Time      `json:"timestamp"`
	Operation        string         `json:"operation"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	AffectedLayers   []string       `json:"affected_layers,omitempty"`
	Success          bool           `json:"success"`
	Message          string         `json:"message,omitempty"`
	HasStateSnapshot bool           `json:"has_state_snapshot"`
}

// Snapshot captures enough session state to undo a transaction.
type Snapshot struct {
	TransactionID string         `json:"transaction_id"`
	CapturedAt    time.Time      `json:"captured_at"`
	ActiveLayers  []string       `json:"active_layers,omitempty"`
	SelectedLayer string         `json:"selected_layer,omitempty"`
	LayerState    map[string]any `json:"layer_state,omitempty"`
}

// Logger persists transactions to a JSON-array file and snapshots to
// individual files alongside it. Safe for concurrent use.
type Logger struct {
	mu           sync.Mutex
	path         string
	snapshotDir  string
	maxSnapshots int
	transactions []Transaction
	logger       *slog.Logger
}

// New opens or creates the transaction log at path. Snapshot files live in
// a snapshots directory next to it. maxSnapshots <= 0 uses the default.
func New(path string, maxSnapshots int, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}

	snapshotDir := filepath.Join(filepath.Dir(path), "snapshots")
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	l := &Logger{
		path:         path,
		snapshotDir:  snapshotDir,
		maxSnapshots: maxSnapshots,
		logger:       logger,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fresh log
	case err != nil:
		return nil, fmt.Errorf("reading transaction log: %w", err)
	default:
		if err := json.Unmarshal(data, &l.transactions); err != nil {
			backup := fmt.Sprintf("%s.bak.%d", path, time.Now().Unix())
			if renameErr := os.Rename(path, backup); renameErr != nil {
				return nil, fmt.Errorf("backing up corrupt transaction log: %w", renameErr)
			}
			logger.Warn("transaction log was corrupt, starting fresh",
				"path", path,
				"backup", backup)
			l.transactions = nil
		}
	}

	return l, nil
}

// newTransactionID builds an identifier of the form
// tx_<unixtime>_<8 hex chars> where the hex suffix is derived from the
// operation name and a nanosecond timestamp.
func newTransactionID(operation string) string {
	now := time.Now()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", operation, now.UnixNano())))
	return fmt.Sprintf("tx_%d_%s", now.Unix(), hex.EncodeToString(sum[:4]))
}

// Record logs a transaction, optionally with a state snapshot. A snapshot
// that cannot be written is logged and the transaction is recorded without
// state; recording never fails on snapshot errors.
func (l *Logger) Record(operation string, params map[string]any, layers []string, success bool, message string, snap *Snapshot) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := Transaction{
		ID:             newTransactionID(operation),
		Timestamp:      time.Now().UTC(),
		Operation:      operation,
		Parameters:     params,
		AffectedLayers: layers,
		Success:        success,
		Message:        message,
	}

	if snap != nil {
		snap.TransactionID = tx.ID
		snap.CapturedAt = tx.Timestamp
		if err := l.writeSnapshot(tx.ID, snap); err != nil {
			l.logger.Warn("failed to write state snapshot",
				"transaction", tx.ID,
				"error", err)
		} else {
			tx.HasStateSnapshot = true
		}
	}

	l.transactions = append(l.transactions, tx)
	l.pruneSnapshotsLocked()

	if err := l.flushLocked(); err != nil {
		return tx, err
	}
	return tx, nil
}

// GetStateSnapshot loads the snapshot for a transaction. If the snapshot
// file is missing or unreadable the transaction's flag is corrected and
// persisted so callers stop expecting state that no longer exists.
func (l *Logger) GetStateSnapshot(transactionID string) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOfLocked(transactionID)
	if idx < 0 {
		return nil, ErrNotFound
	}
	if !l.transactions[idx].HasStateSnapshot {
		return nil, fmt.Errorf("transaction %s has no state snapshot", transactionID)
	}

	snap, err := l.readSnapshot(transactionID)
	if err != nil {
		l.transactions[idx].HasStateSnapshot = false
		if flushErr := l.flushLocked(); flushErr != nil {
			l.logger.Warn("failed to persist snapshot flag correction", "error", flushErr)
		}
		return nil, fmt.Errorf("loading snapshot for %s: %w", transactionID, err)
	}
	return snap, nil
}

// GetLatestStateSnapshot returns the newest loadable snapshot, walking
// backwards past transactions whose snapshots are missing or corrupt.
func (l *Logger) GetLatestStateSnapshot() (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := false
	for i := len(l.transactions) - 1; i >= 0; i-- {
		if !l.transactions[i].HasStateSnapshot {
			continue
		}
		snap, err := l.readSnapshot(l.transactions[i].ID)
		if err != nil {
			l.logger.Warn("skipping unreadable snapshot",
				"transaction", l.transactions[i].ID,
				"error", err)
			l.transactions[i].HasStateSnapshot = false
			changed = true
			continue
		}
		if changed {
			if flushErr := l.flushLocked(); flushErr != nil {
				l.logger.Warn("failed to persist snapshot flag correction", "error", flushErr)
			}
		}
		return snap, nil
	}

	if changed {
		if flushErr := l.flushLocked(); flushErr != nil {
			l.logger.Warn("failed to persist snapshot flag correction", "error", flushErr)
		}
	}
	return nil, errors.New("no state snapshots available")
}

// RollbackToTransaction returns the snapshot to restore and the list of
// transactions that the rollback undoes (newest first). The log itself is
// not modified; callers record the rollback as its own transaction.
func (l *Logger) RollbackToTransaction(transactionID string) (*Snapshot, []Transaction, error) {
	snap, err := l.GetStateSnapshot(transactionID)
	if err != nil {
		return nil, nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOfLocked(transactionID)
	var undone []Transaction
	for i := len(l.transactions) - 1; i > idx; i-- {
		undone = append(undone, l.transactions[i])
	}
	return snap, undone, nil
}

// RecentOperations returns up to limit transactions, newest first.
func (l *Logger) RecentOperations(limit int) []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.transactions)
	if limit > n {
		limit = n
	}
	out := make([]Transaction, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.transactions[i])
	}
	return out
}

// FindByType returns all transactions for an operation, oldest first.
func (l *Logger) FindByType(operation string) []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Transaction
	for _, tx := range l.transactions {
		if tx.Operation == operation {
			out = append(out, tx)
		}
	}
	return out
}

// Get returns a transaction by ID.
func (l *Logger) Get(transactionID string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOfLocked(transactionID)
	if idx < 0 {
		return Transaction{}, ErrNotFound
	}
	return l.transactions[idx], nil
}

// Close flushes the log to disk.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// pruneSnapshotsLocked keeps only the newest maxSnapshots snapshot files
// and corrects the flags of transactions whose snapshots were removed.
func (l *Logger) pruneSnapshotsLocked() {
	var withSnapshots []int
	for i, tx := range l.transactions {
		if tx.HasStateSnapshot {
			withSnapshots = append(withSnapshots, i)
		}
	}
	if len(withSnapshots) <= l.maxSnapshots {
		return
	}

	sort.Ints(withSnapshots)
	toPrune := withSnapshots[:len(withSnapshots)-l.maxSnapshots]
	for _, idx := range toPrune {
		id := l.transactions[idx].ID
		if err := os.Remove(l.snapshotFile(id)); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("failed to remove pruned snapshot",
				"transaction", id,
				"error", err)
		}
		l.transactions[idx].HasStateSnapshot = false
	}
}

func (l *Logger) indexOfLocked(transactionID string) int {
	for i, tx := range l.transactions {
		if tx.ID == transactionID {
			return i
		}
	}
	return -1
}

func (l *Logger) snapshotFile(transactionID string) string {
	return filepath.Join(l.snapshotDir, transactionID+".json")
}

func (l *Logger) writeSnapshot(transactionID string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(l.snapshotFile(transactionID), data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func (l *Logger) readSnapshot(transactionID string) (*Snapshot, error) {
	data, err := os.ReadFile(l.snapshotFile(transactionID))
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

func (l *Logger) flushLocked() error {
	data, err := json.MarshalIndent(l.transactions, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transaction log: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("writing transaction log: %w", err)
	}
	return nil
}
