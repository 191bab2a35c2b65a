// Package pipeline orchestrates the full command path: interpretation,
// safety screening, execution, transaction logging, and history.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mapspeak/mapspeak/internal/errlog"
	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/history"
	"github.com/mapspeak/mapspeak/internal/intent"
	"github.com/mapspeak/mapspeak/internal/query"
	"github.com/mapspeak/mapspeak/internal/safety"
	"github.com/mapspeak/mapspeak/internal/txlog"
)

// Result is the outcome of a processed command.
type Result struct {
	Success       bool           `json:"success"`
	Blocked       bool           `json:"blocked,omitempty"`
	Message       string         `json:"message"`
	Intent        *intent.Intent `json:"intent,omitempty"`
	Issues        []intent.Issue `json:"issues,omitempty"`
	Suggestions   []string       `json:"suggestions,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Handle        string         `json:"handle,omitempty"`
}

// Assistant runs natural-language commands end to end. Each stage degrades
// gracefully: a failing history write or error-log append never fails the
// command itself.
type Assistant struct {
	queries  *query.Engine
	checker  *safety.Checker
	executor gis.Executor
	txs      *txlog.Logger
	errors   *errlog.Logger
	store    *history.Store
	logger   *slog.Logger
}

// NewAssistant wires the command pipeline. txs, errors and store may be
// nil; the corresponding stages are skipped.
func NewAssistant(
	queries *query.Engine,
	checker *safety.Checker,
	executor gis.Executor,
	txs *txlog.Logger,
	errors *errlog.Logger,
	store *history.Store,
	logger *slog.Logger,
) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		queries:  queries,
		checker:  checker,
		executor: executor,
		txs:      txs,
		errors:   errors,
		store:    store,
		logger:   logger,
	}
}

// Interpret runs interpretation and safety screening without executing
// anything. Used for previews and the interpret API.
func (a *Assistant) Interpret(ctx context.Context, text string, session *gis.Session) *Result {
	in := a.queries.ProcessQuery(ctx, text, session)

	result := &Result{
		Intent: in,
		Issues: in.ValidationIssues,
	}

	if hasError(in.ValidationIssues) {
		result.Message = "Command could not be fully interpreted."
		result.Suggestions = a.queries.Suggestions(in)
		return result
	}

	findings := a.checker.CheckOperationRisks(in)
	result.Issues = append(result.Issues, findings...)
	if safety.ShouldPreventExecution(findings) {
		result.Blocked = true
		result.Message = "Command understood, but execution would be blocked."
		result.Suggestions = safety.AlternativeSuggestions(in, findings)
		return result
	}

	result.Success = true
	result.Message = fmt.Sprintf("Ready to run %s on %s.", in.Operation, in.InputLayer)
	return result
}

// ProcessCommand interprets, screens, and executes a command, then records
// the outcome in the transaction log and command history.
func (a *Assistant) ProcessCommand(ctx context.Context, text string, session *gis.Session) *Result {
	in := a.queries.ProcessQuery(ctx, text, session)

	result := &Result{
		Intent: in,
		Issues: in.ValidationIssues,
	}

	if hasError(in.ValidationIssues) {
		result.Message = "Command could not be fully interpreted."
		result.Suggestions = a.queries.Suggestions(in)
		a.logError("interpretation_failed", result.Message, in)
		a.record(text, in, result)
		return result
	}

	findings := a.checker.CheckOperationRisks(in)
	result.Issues = append(result.Issues, findings...)
	if safety.ShouldPreventExecution(findings) {
		result.Blocked = true
		result.Message = "Execution blocked by safety checks."
		result.Suggestions = safety.AlternativeSuggestions(in, findings)
		a.logError("execution_prevented", result.Message, in)
		a.record(text, in, result)
		return result
	}

	a.logAction(in)

	params := executionParams(in)
	exec := a.executor.Execute(string(in.Operation), params)
	result.Success = exec.Success
	result.Message = exec.Message
	result.Handle = exec.Handle

	if a.txs != nil {
		snap := snapshotFor(session)
		tx, err := a.txs.Record(string(in.Operation), params, affectedLayers(in), exec.Success, exec.Message, snap)
		if err != nil {
			a.logger.Warn("failed to record transaction", "error", err)
		} else {
			result.TransactionID = tx.ID
		}
	}

	if !exec.Success {
		a.logError("execution_failed", exec.Message, in)
		if a.txs != nil {
			for _, tx := range a.txs.RecentOperations(3) {
				a.logger.Debug("recent transaction before failure",
					"transaction", tx.ID,
					"operation", tx.Operation,
					"success", tx.Success)
			}
		}
	}

	a.record(text, in, result)
	return result
}

// RollbackLast restores the most recent snapshot into the session and
// records the rollback as its own transaction.
func (a *Assistant) RollbackLast(session *gis.Session) (*Result, error) {
	if a.txs == nil {
		return nil, fmt.Errorf("transaction log not configured")
	}
	snap, err := a.txs.GetLatestStateSnapshot()
	if err != nil {
		return nil, fmt.Errorf("no state to roll back to: %w", err)
	}
	return a.applyRollback(session, snap, nil)
}

// RollbackTo restores the snapshot of a specific transaction, undoing
// everything after it.
func (a *Assistant) RollbackTo(session *gis.Session, transactionID string) (*Result, error) {
	if a.txs == nil {
		return nil, fmt.Errorf("transaction log not configured")
	}
	snap, undone, err := a.txs.RollbackToTransaction(transactionID)
	if err != nil {
		return nil, err
	}
	return a.applyRollback(session, snap, undone)
}

func (a *Assistant) applyRollback(session *gis.Session, snap *txlog.Snapshot, undone []txlog.Transaction) (*Result, error) {
	if session != nil {
		session.ActiveLayers = session.ActiveLayers[:0]
		for _, name := range snap.ActiveLayers {
			session.ActiveLayers = append(session.ActiveLayers, gis.Layer{Name: name, Visible: true})
		}
		session.SelectedLayer = snap.SelectedLayer
	}

	tx, err := a.txs.Record("rollback", map[string]any{
		"restored_transaction": snap.TransactionID,
		"undone_count":         len(undone),
	}, snap.ActiveLayers, true, "State restored.", nil)
	if err != nil {
		a.logger.Warn("failed to record rollback transaction", "error", err)
	}

	message := fmt.Sprintf("Rolled back to state captured at %s.", snap.CapturedAt.Format(time.RFC3339))
	return &Result{
		Success:       true,
		Message:       message,
		TransactionID: tx.ID,
	}, nil
}

// RecentTransactions exposes the transaction log to outer surfaces.
func (a *Assistant) RecentTransactions(limit int) []txlog.Transaction {
	if a.txs == nil {
		return nil
	}
	return a.txs.RecentOperations(limit)
}

// ErrorStatistics exposes aggregated error history.
func (a *Assistant) ErrorStatistics() errlog.Statistics {
	if a.errors == nil {
		return errlog.Statistics{}
	}
	return a.errors.Statistics()
}

// RecentCommands returns recent history entries.
func (a *Assistant) RecentCommands(limit int) ([]history.Command, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.Recent(limit)
}

func (a *Assistant) logAction(in *intent.Intent) {
	if a.errors == nil {
		return
	}
	if err := a.errors.LogAction(string(in.Operation), map[string]any{
		"input_layer": in.InputLayer,
		"confidence":  in.Confidence,
	}); err != nil {
		a.logger.Warn("failed to log action", "error", err)
	}
}

func (a *Assistant) logError(errorType, message string, in *intent.Intent) {
	if a.errors == nil {
		return
	}
	if err := a.errors.LogError(errorType, message, map[string]any{
		"operation":   string(in.Operation),
		"input_layer": in.InputLayer,
		"confidence":  in.Confidence,
	}); err != nil {
		a.logger.Warn("failed to log error", "error", err)
	}
}

func (a *Assistant) record(text string, in *intent.Intent, result *Result) {
	if a.store == nil {
		return
	}
	err := a.store.Save(history.Command{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Text:          text,
		Operation:     string(in.Operation),
		InputLayer:    in.InputLayer,
		Confidence:    in.Confidence,
		Success:       result.Success,
		Message:       result.Message,
		TransactionID: result.TransactionID,
	})
	if err != nil {
		a.logger.Warn("failed to save command history", "error", err)
	}
}

func executionParams(in *intent.Intent) map[string]any {
	params := make(map[string]any, len(in.Parameters)+2)
	for k, v := range in.Parameters {
		params[k] = v
	}
	params["input_layer"] = in.InputLayer
	if in.SecondaryLayer != "" {
		params["overlay_layer"] = in.SecondaryLayer
	}
	return params
}

func affectedLayers(in *intent.Intent) []string {
	layers := []string{in.InputLayer}
	if in.SecondaryLayer != "" {
		layers = append(layers, in.SecondaryLayer)
	}
	return layers
}

func snapshotFor(session *gis.Session) *txlog.Snapshot {
	if session == nil {
		return nil
	}
	return &txlog.Snapshot{
		ActiveLayers:  session.LayerNames(),
		SelectedLayer: session.SelectedLayer,
	}
}

func hasError(issues []intent.Issue) bool {
	for _, issue := range issues {
		if issue.Severity == intent.SeverityError {
			return true
		}
	}
	return false
}
