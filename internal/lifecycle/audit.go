package lifecycle

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gotrader/internal/model"
)

// Outcome is one audit record: what the lifecycle did (or declined to do)
// for a symbol in one run. Outcomes make the signal-to-trade transitions
// replayable after the fact.
type Outcome struct {
	RunID     string       `json:"run_id"`
	Timestamp time.Time    `json:"timestamp"`
	Symbol    string       `json:"symbol"`
	Action    model.Action `json:"action,omitempty"`
	SignalKey string       `json:"signal_key,omitempty"`
	TradeID   string       `json:"trade_id,omitempty"`
	Result    string       `json:"result"`
	Detail    string       `json:"detail,omitempty"`
}

// Audit results.
const (
	ResultSignalCreated = "signal_created"
	ResultDuplicate     = "duplicate"
	ResultDeferred      = "deferred"
	ResultGap           = "reconciliation_gap"
	ResultTimedOut      = "timed_out"
	ResultClosed        = "closed"
	ResultIncomplete    = "incomplete"
	ResultError         = "error"
)

// AuditLogger appends outcomes as NDJSON. Append never fails the run; a
// write problem is reported on stderr and the lifecycle carries on.
type AuditLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewAuditLogger(path, runID string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &AuditLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (a *AuditLogger) RunID() string {
	return a.runID
}

func (a *AuditLogger) Append(outcome Outcome) {
	if a == nil {
		return
	}
	outcome.RunID = a.runID
	outcome.Timestamp = time.Now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()
	payload, err := json.Marshal(outcome)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal audit outcome: %v\n", err)
		return
	}
	if _, err := a.writer.Write(append(payload, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write audit outcome: %v\n", err)
		return
	}
	if err := a.writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush audit log: %v\n", err)
	}
}

func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.writer.Flush(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}
