package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mapspeak/mapspeak/internal/errlog"
	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/history"
	"github.com/mapspeak/mapspeak/internal/intent"
	"github.com/mapspeak/mapspeak/internal/nlp"
	"github.com/mapspeak/mapspeak/internal/query"
	"github.com/mapspeak/mapspeak/internal/safety"
	"github.com/mapspeak/mapspeak/internal/txlog"
)

// fakeExecutor records the last call and returns a canned result.
type fakeExecutor struct {
	operation string
	params    map[string]any
	result    gis.ExecResult
}

func (f *fakeExecutor) Execute(operation string, params map[string]any) gis.ExecResult {
	f.operation = operation
	f.params = params
	return f.result
}

func newTestAssistant(t *testing.T, exec gis.Executor, stats gis.StatsProvider) *Assistant {
	t.Helper()
	dir := t.TempDir()

	txs, err := txlog.New(filepath.Join(dir, "transactions.json"), 10, nil)
	if err != nil {
		t.Fatalf("txlog.New: %v", err)
	}
	errors, err := errlog.New(filepath.Join(dir, "errors.json"), nil)
	if err != nil {
		t.Fatalf("errlog.New: %v", err)
	}
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := query.NewEngine(nlp.NewEngine(nil), stats, query.Limits{}, nil)
	checker := safety.NewChecker(stats, errors, 0, nil)
	return NewAssistant(engine, checker, exec, txs, errors, store, nil)
}

func pipelineSession(layers ...string) *gis.Session {
	s := &gis.Session{CRS: "EPSG:4326"}
	for _, name := range layers {
		s.ActiveLayers = append(s.ActiveLayers, gis.Layer{Name: name, Visible: true})
	}
	return s
}

func TestProcessCommandSuccess(t *testing.T) {
	exec := &fakeExecutor{result: gis.ExecResult{Success: true, Message: "buffer created", Handle: "out_1"}}
	a := newTestAssistant(t, exec, nil)
	session := pipelineSession("rivers")

	result := a.ProcessCommand(context.Background(), "buffer the rivers layer by 2 kilometers", session)

	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.TransactionID == "" {
		t.Error("transaction id missing")
	}
	if result.Handle != "out_1" {
		t.Errorf("handle = %q", result.Handle)
	}

	if exec.operation != "buffer" {
		t.Errorf("executed operation = %q, want buffer", exec.operation)
	}
	if exec.params["input_layer"] != "rivers" {
		t.Errorf("input_layer param = %v", exec.params["input_layer"])
	}
	if d, _ := exec.params["distance"].(float64); d != 2000 {
		t.Errorf("distance param = %v, want 2000", exec.params["distance"])
	}

	txs := a.RecentTransactions(5)
	if len(txs) != 1 || txs[0].Operation != "buffer" || !txs[0].Success {
		t.Errorf("transactions = %+v", txs)
	}
	if !txs[0].HasStateSnapshot {
		t.Error("execution should capture a session snapshot")
	}

	commands, err := a.RecentCommands(5)
	if err != nil {
		t.Fatalf("RecentCommands: %v", err)
	}
	if len(commands) != 1 || !commands[0].Success || commands[0].Operation != "buffer" {
		t.Errorf("history = %+v", commands)
	}
}

func TestProcessCommandInterpretationFailure(t *testing.T) {
	exec := &fakeExecutor{result: gis.ExecResult{Success: true}}
	a := newTestAssistant(t, exec, nil)
	session := pipelineSession("roads")

	// No distance and no extent to infer one from.
	result := a.ProcessCommand(context.Background(), "buffer roads", session)

	if result.Success {
		t.Fatal("want failure for incomplete command")
	}
	if len(result.Suggestions) == 0 {
		t.Error("want completion suggestions")
	}
	if exec.operation != "" {
		t.Errorf("executor ran %q despite failed interpretation", exec.operation)
	}

	stats := a.ErrorStatistics()
	if stats.ErrorCounts["interpretation_failed"] != 1 {
		t.Errorf("error counts = %v, want one interpretation_failed", stats.ErrorCounts)
	}
}

func TestProcessCommandBlockedBySafety(t *testing.T) {
	exec := &fakeExecutor{result: gis.ExecResult{Success: true}}
	a := newTestAssistant(t, exec, nil)

	a.checker.AddRule(safety.Rule{
		ID: "block_all",
		Detect: func(in *intent.Intent) *intent.Issue {
			return &intent.Issue{
				Type:     "block_all",
				Message:  "blocked for testing",
				Severity: intent.SeverityError,
			}
		},
	})
	session := pipelineSession("rivers")

	result := a.ProcessCommand(context.Background(), "buffer the rivers layer by 2 kilometers", session)

	if !result.Blocked {
		t.Fatalf("result = %+v, want blocked", result)
	}
	if result.Success {
		t.Error("blocked command must not be successful")
	}
	if exec.operation != "" {
		t.Errorf("executor ran %q despite block", exec.operation)
	}

	stats := a.ErrorStatistics()
	if stats.ErrorCounts["execution_prevented"] != 1 {
		t.Errorf("error counts = %v, want one execution_prevented", stats.ErrorCounts)
	}
}

func TestProcessCommandExecutionFailure(t *testing.T) {
	exec := &fakeExecutor{result: gis.ExecResult{Success: false, Message: "backend unavailable"}}
	a := newTestAssistant(t, exec, nil)
	session := pipelineSession("rivers")

	result := a.ProcessCommand(context.Background(), "buffer the rivers layer by 2 kilometers", session)

	if result.Success {
		t.Fatal("want failure when the executor fails")
	}
	if result.Message != "backend unavailable" {
		t.Errorf("message = %q", result.Message)
	}
	// The failed run is still a transaction and an error-log entry.
	if result.TransactionID == "" {
		t.Error("failed execution should still be recorded as a transaction")
	}
	stats := a.ErrorStatistics()
	if stats.ErrorCounts["execution_failed"] != 1 {
		t.Errorf("error counts = %v", stats.ErrorCounts)
	}
	if stats.MostCommonPrecedingOperation != "buffer" {
		t.Errorf("preceding op = %q, want buffer", stats.MostCommonPrecedingOperation)
	}
}

func TestInterpretDoesNotExecute(t *testing.T) {
	exec := &fakeExecutor{result: gis.ExecResult{Success: true}}
	a := newTestAssistant(t, exec, nil)
	session := pipelineSession("rivers")

	result := a.Interpret(context.Background(), "buffer the rivers layer by 2 kilometers", session)

	if !result.Success {
		t.Fatalf("result = %+v, want ready", result)
	}
	if exec.operation != "" {
		t.Error("interpret must not execute")
	}
	if len(a.RecentTransactions(5)) != 0 {
		t.Error("interpret must not record transactions")
	}
}

func TestRollbackLastRestoresSession(t *testing.T) {
	exec := &fakeExecutor{result: gis.ExecResult{Success: true, Message: "ok"}}
	a := newTestAssistant(t, exec, nil)
	session := pipelineSession("rivers", "roads")
	session.SelectedLayer = "rivers"

	first := a.ProcessCommand(context.Background(), "buffer the rivers layer by 2 kilometers", session)
	if !first.Success {
		t.Fatalf("setup command failed: %+v", first)
	}

	// Simulate the host mutating the session after execution.
	session.ActiveLayers = append(session.ActiveLayers, gis.Layer{Name: "buffer_output", Visible: true})
	session.SelectedLayer = "buffer_output"

	result, err := a.RollbackLast(session)
	if err != nil {
		t.Fatalf("RollbackLast: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	names := session.LayerNames()
	if len(names) != 2 || names[0] != "rivers" || names[1] != "roads" {
		t.Errorf("layers after rollback = %v, want [rivers roads]", names)
	}
	if session.SelectedLayer != "rivers" {
		t.Errorf("selected = %q, want rivers", session.SelectedLayer)
	}

	// The rollback itself lands in the log.
	txs := a.RecentTransactions(1)
	if len(txs) != 1 || txs[0].Operation != "rollback" {
		t.Errorf("latest transaction = %+v, want rollback", txs)
	}
}

func TestRollbackToSpecificTransaction(t *testing.T) {
	exec := &fakeExecutor{result: gis.ExecResult{Success: true}}
	a := newTestAssistant(t, exec, nil)
	session := pipelineSession("rivers")

	first := a.ProcessCommand(context.Background(), "buffer the rivers layer by 2 kilometers", session)
	session.ActiveLayers = append(session.ActiveLayers, gis.Layer{Name: "scratch", Visible: true})
	a.ProcessCommand(context.Background(), "buffer the rivers layer by 1 kilometers", session)

	result, err := a.RollbackTo(session, first.TransactionID)
	if err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if names := session.LayerNames(); len(names) != 1 || names[0] != "rivers" {
		t.Errorf("layers = %v, want just rivers", names)
	}
}

func TestRollbackWithNothingToRestore(t *testing.T) {
	exec := &fakeExecutor{result: gis.ExecResult{Success: true}}
	a := newTestAssistant(t, exec, nil)

	if _, err := a.RollbackLast(pipelineSession("rivers")); err == nil {
		t.Error("want error when no snapshots exist")
	}
}
