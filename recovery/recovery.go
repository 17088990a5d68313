// Package recovery classifies failed, stuck and unpersisted transactions and
// proposes ranked remediation actions.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gobridgetracker/types"

	"github.com/andres-erbsen/clock"
)

const STUCK_AFTER = 2.0 // of eta

type Kind string

const (
	KindRetry       Kind = "retry"
	KindCheckStatus Kind = "check_status"
	KindRefreshAll  Kind = "refresh_all"
	KindResync      Kind = "resync"
)

type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	}
	return "unknown"
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Executor performs the remediation behind actions.
type Executor interface {
	RetryFailed(ctx context.Context, id string) (string, error)
	Refresh(ctx context.Context, id string) (types.BridgeTransaction, error)
	RefreshAll(ctx context.Context) error
	Resync(ctx context.Context, id string) error
}

// Action is derived on demand and never stored. Ids are stable across analyses
// of the same records.
type Action struct {
	ID            string   `json:"id"`
	Kind          Kind     `json:"kind"`
	TransactionID string   `json:"transactionId,omitempty"`
	Severity      Severity `json:"severity"`
	Description   string   `json:"description"`

	execute func(ctx context.Context) (string, error)
}

// Execute runs the bound executor. The result is the new transaction id for
// retries and empty otherwise.
func (a Action) Execute(ctx context.Context) (string, error) {
	if a.execute == nil {
		return "", fmt.Errorf("action %s has no executor", a.ID)
	}
	return a.execute(ctx)
}

type Report struct {
	Failed      []types.BridgeTransaction `json:"failed"`
	Stuck       []types.BridgeTransaction `json:"stuck"`
	Unpersisted []types.BridgeTransaction `json:"unpersisted"`
	Actions     []Action                  `json:"actions"`
	GeneratedAt time.Time                 `json:"generatedAt"`
}

func (r Report) Empty() bool {
	return len(r.Failed) == 0 && len(r.Stuck) == 0 && len(r.Unpersisted) == 0
}

// Action finds an action of the report by id.
func (r Report) Action(id string) (Action, bool) {
	for _, a := range r.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

type Analyzer struct {
	exec  Executor
	clock clock.Clock
}

func NewAnalyzer(exec Executor, clk clock.Clock) *Analyzer {
	if clk == nil {
		clk = clock.New()
	}
	return &Analyzer{exec: exec, clock: clk}
}

// Stuck reports a non-terminal transaction running past twice its eta. It is a
// signal for callers only and never changes the status.
func Stuck(tx types.BridgeTransaction, now time.Time) bool {
	if tx.Status.Terminal() {
		return false
	}
	return tx.Elapsed(now) > time.Duration(float64(tx.EstimatedDuration)*STUCK_AFTER)
}

// Analyze classifies history. Records listed more than once count once, as
// their most recently updated copy.
func (a *Analyzer) Analyze(history []types.BridgeTransaction) Report {
	now := a.clock.Now()
	report := Report{GeneratedAt: now.UTC()}

	for _, tx := range latest(history) {
		if tx.Status == types.StatusFailed {
			report.Failed = append(report.Failed, tx)
			report.Actions = append(report.Actions, a.retry(tx))
		}
		if Stuck(tx, now) {
			report.Stuck = append(report.Stuck, tx)
			report.Actions = append(report.Actions, a.checkStatus(tx))
		}
		if tx.Condition == types.ConditionPersistenceFailed {
			report.Unpersisted = append(report.Unpersisted, tx)
			report.Actions = append(report.Actions, a.resync(tx))
		}
	}

	if !report.Empty() {
		report.Actions = append(report.Actions, a.refreshAll())
	}
	sort.SliceStable(report.Actions, func(i, j int) bool {
		return report.Actions[i].Severity > report.Actions[j].Severity
	})
	return report
}

// latest keeps the first position of each id and its newest copy.
func latest(history []types.BridgeTransaction) []types.BridgeTransaction {
	at := make(map[string]int, len(history))
	out := make([]types.BridgeTransaction, 0, len(history))
	for _, tx := range history {
		i, ok := at[tx.ID]
		if !ok {
			at[tx.ID] = len(out)
			out = append(out, tx)
			continue
		}
		if tx.UpdatedAt.After(out[i].UpdatedAt) {
			out[i] = tx
		}
	}
	return out
}

func (a *Analyzer) retry(tx types.BridgeTransaction) Action {
	id := tx.ID
	return Action{
		ID:            fmt.Sprintf("%s:%s", KindRetry, id),
		Kind:          KindRetry,
		TransactionID: id,
		Severity:      SeverityHigh,
		Description:   fmt.Sprintf("retry failed transfer of %s %s from chain %d to chain %d as a new transaction", tx.Amount, tx.Token, tx.SourceChain, tx.DestinationChain),
		execute: func(ctx context.Context) (string, error) {
			return a.exec.RetryFailed(ctx, id)
		},
	}
}

func (a *Analyzer) checkStatus(tx types.BridgeTransaction) Action {
	id := tx.ID
	return Action{
		ID:            fmt.Sprintf("%s:%s", KindCheckStatus, id),
		Kind:          KindCheckStatus,
		TransactionID: id,
		Severity:      SeverityMedium,
		Description:   fmt.Sprintf("transfer %s is %s for %s, check its status now", id, tx.Status, tx.Elapsed(a.clock.Now()).Round(time.Second)),
		execute: func(ctx context.Context) (string, error) {
			_, err := a.exec.Refresh(ctx, id)
			return "", err
		},
	}
}

func (a *Analyzer) resync(tx types.BridgeTransaction) Action {
	id := tx.ID
	return Action{
		ID:            fmt.Sprintf("%s:%s", KindResync, id),
		Kind:          KindResync,
		TransactionID: id,
		Severity:      SeverityHigh,
		Description:   fmt.Sprintf("write transfer %s to storage again: %s", id, tx.LastError),
		execute: func(ctx context.Context) (string, error) {
			return "", a.exec.Resync(ctx, id)
		},
	}
}

func (a *Analyzer) refreshAll() Action {
	return Action{
		ID:          string(KindRefreshAll),
		Kind:        KindRefreshAll,
		Severity:    SeverityLow,
		Description: "refresh every active transfer",
		execute: func(ctx context.Context) (string, error) {
			return "", a.exec.RefreshAll(ctx)
		},
	}
}
