// Package errlog keeps a persistent timeline of errors and the user
// actions that preceded them. The timeline feeds the prevention rules:
// operations that repeatedly precede failures get flagged before they run.
package errlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record kinds in the timeline.
const (
	KindError  = "error"
	KindAction = "action"
)

// Record is one timeline entry. Kind selects which fields are meaningful:
// errors carry ErrorType, Message and PrecedingOperation; actions carry
// Operation.
type Record struct {
	Kind               string         `json:"kind"`
	Timestamp          time.Time      `json:"timestamp"`
	ErrorType          string         `json:"error_type,omitempty"`
	Message            string         `json:"message,omitempty"`
	Operation          string         `json:"operation,omitempty"`
	PrecedingOperation string         `json:"preceding_operation,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
}

// Statistics aggregates the error timeline.
type Statistics struct {
	TotalErrors                  int                `json:"total_errors"`
	TotalActions                 int                `json:"total_actions"`
	ErrorCounts                  map[string]int     `json:"error_counts"`
	ErrorPercentages             map[string]float64 `json:"error_percentages"`
	MostCommonPrecedingOperation string             `json:"most_common_preceding_operation"`
	PrecedingOperationCount      int                `json:"preceding_operation_count"`
	GeneratedAt                  time.Time          `json:"generated_at"`
}

// Logger records errors and actions to a JSON-array file. Safe for
// concurrent use.
type Logger struct {
	mu         sync.Mutex
	path       string
	statsPath  string
	records    []Record
	lastAction string
	logger     *slog.Logger
}

// New opens or creates the timeline at path. A file that cannot be parsed
// is moved aside to <path>.bak.<unixtime> and the timeline restarts empty;
// existing history is never silently discarded.
func New(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	l := &Logger{
		path:      path,
		statsPath: path + ".stats.json",
		logger:    logger,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fresh timeline
	case err != nil:
		return nil, fmt.Errorf("reading error log: %w", err)
	default:
		if err := json.Unmarshal(data, &l.records); err != nil {
			backup := fmt.Sprintf("%s.bak.%d", path, time.Now().Unix())
			if renameErr := os.Rename(path, backup); renameErr != nil {
				return nil, fmt.Errorf("backing up corrupt error log: %w", renameErr)
			}
			logger.Warn("error log was corrupt, starting fresh",
				"path", path,
				"backup", backup)
			l.records = nil
		}
	}

	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].Kind == KindAction {
			l.lastAction = l.records[i].Operation
			break
		}
	}

	return l, nil
}

// LogAction records a user action. The most recent action becomes the
// preceding operation of the next error.
func (l *Logger) LogAction(operation string, details map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, Record{
		Kind:      KindAction,
		Timestamp: time.Now().UTC(),
		Operation: operation,
		Details:   details,
	})
	l.lastAction = operation
	return l.flushLocked()
}

// LogError records an error together with the action that preceded it.
func (l *Logger) LogError(errorType, message string, details map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, Record{
		Kind:               KindError,
		Timestamp:          time.Now().UTC(),
		ErrorType:          errorType,
		Message:            message,
		PrecedingOperation: l.lastAction,
		Details:            details,
	})
	return l.flushLocked()
}

// RecentErrors returns up to limit errors, newest first.
func (l *Logger) RecentErrors(limit int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errors []Record
	for i := len(l.records) - 1; i >= 0 && len(errors) < limit; i-- {
		if l.records[i].Kind == KindError {
			errors = append(errors, l.records[i])
		}
	}
	return errors
}

// ErrorsByType returns all errors of the given type, oldest first.
func (l *Logger) ErrorsByType(errorType string) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errors []Record
	for _, rec := range l.records {
		if rec.Kind == KindError && rec.ErrorType == errorType {
			errors = append(errors, rec)
		}
	}
	return errors
}

// Statistics aggregates the timeline and persists the result next to the
// log file.
func (l *Logger) Statistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Statistics{
		ErrorCounts:      make(map[string]int),
		ErrorPercentages: make(map[string]float64),
		GeneratedAt:      time.Now().UTC(),
	}
	preceding := make(map[string]int)

	for _, rec := range l.records {
		switch rec.Kind {
		case KindAction:
			stats.TotalActions++
		case KindError:
			stats.TotalErrors++
			stats.ErrorCounts[rec.ErrorType]++
			if rec.PrecedingOperation != "" {
				preceding[rec.PrecedingOperation]++
			}
		}
	}

	for errorType, count := range stats.ErrorCounts {
		stats.ErrorPercentages[errorType] = float64(count) / float64(stats.TotalErrors) * 100
	}
	for op, count := range preceding {
		if count > stats.PrecedingOperationCount {
			stats.MostCommonPrecedingOperation = op
			stats.PrecedingOperationCount = count
		}
	}

	if data, err := json.MarshalIndent(stats, "", "  "); err == nil {
		if writeErr := os.WriteFile(l.statsPath, data, 0o644); writeErr != nil {
			l.logger.Warn("failed to write error statistics", "error", writeErr)
		}
	}

	return stats
}

// MostCommonPrecedingOperation reports the operation most often recorded
// immediately before an error.
func (l *Logger) MostCommonPrecedingOperation() (string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	preceding := make(map[string]int)
	for _, rec := range l.records {
		if rec.Kind == KindError && rec.PrecedingOperation != "" {
			preceding[rec.PrecedingOperation]++
		}
	}

	var top string
	var topCount int
	for op, count := range preceding {
		if count > topCount {
			top, topCount = op, count
		}
	}
	return top, topCount
}

// Analyze returns the distribution of errors across hours of the day.
// Useful for spotting time-of-day patterns like end-of-session fatigue.
func (l *Logger) Analyze() map[int]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	hours := make(map[int]int)
	for _, rec := range l.records {
		if rec.Kind == KindError {
			hours[rec.Timestamp.Hour()]++
		}
	}
	return hours
}

// Close flushes the timeline to disk.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Logger) flushLocked() error {
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding error log: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("writing error log: %w", err)
	}
	return nil
}
