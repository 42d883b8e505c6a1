// Package audit reconciles stored balances against the ledger and archives
// the result.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"cryptra/internal/model"
	"cryptra/internal/repository"
)

// LedgerReader finds users whose balances disagree with their transactions.
type LedgerReader interface {
	FindLedgerMismatches(ctx context.Context) ([]repository.LedgerMismatch, error)
	CountUsers(ctx context.Context) (int64, error)
}

// JobCounter counts commission outbox jobs by status.
type JobCounter interface {
	CountByStatus(ctx context.Context) (map[model.CommissionStatus]int64, error)
}

// Uploader stores a finished report.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// Sink receives audit outcomes, typically metrics.
type Sink interface {
	AuditResult(mismatches int, jobs map[model.CommissionStatus]int64)
}

// Report is the outcome of one audit run.
type Report struct {
	RunAt      time.Time                        `json:"run_at"`
	Users      int64                            `json:"users"`
	Mismatches []repository.LedgerMismatch      `json:"mismatches"`
	Jobs       map[model.CommissionStatus]int64 `json:"commission_jobs"`
	Errors     []string                         `json:"errors,omitempty"`
}

// Key is the object key the report is stored under.
func (r *Report) Key(prefix string) string {
	name := r.RunAt.UTC().Format("2006/01/02/150405") + ".json"
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Auditor runs reconciliation.
type Auditor struct {
	ledger   LedgerReader
	jobs     JobCounter
	uploader Uploader
	sink     Sink
	clock    clockwork.Clock
	prefix   string
}

// NewAuditor creates an Auditor. uploader and sink may be nil.
func NewAuditor(ledger LedgerReader, jobs JobCounter, uploader Uploader, sink Sink, clock clockwork.Clock, prefix string) *Auditor {
	return &Auditor{ledger: ledger, jobs: jobs, uploader: uploader, sink: sink, clock: clock, prefix: prefix}
}

// Run reconciles the ledger. Every mismatch, abandoned commission job and
// failed step is collected into the returned error; the report is built and
// uploaded regardless.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	var result *multierror.Error
	report := &Report{RunAt: a.clock.Now()}

	users, err := a.ledger.CountUsers(ctx)
	if err != nil {
		result = multierror.Append(result, err)
	}
	report.Users = users

	mismatches, err := a.ledger.FindLedgerMismatches(ctx)
	if err != nil {
		result = multierror.Append(result, err)
	}
	report.Mismatches = mismatches
	for _, m := range mismatches {
		result = multierror.Append(result, fmt.Errorf("user %s: balance %s/%d coins, ledger %s/%d coins",
			m.UserID, m.Balance, m.Coins, m.LedgerCash, m.LedgerCoins))
	}

	jobs, err := a.jobs.CountByStatus(ctx)
	if err != nil {
		result = multierror.Append(result, err)
	}
	report.Jobs = jobs
	if n := jobs[model.CommissionFailed]; n > 0 {
		result = multierror.Append(result, fmt.Errorf("%d commission jobs abandoned", n))
	}

	if result != nil {
		for _, e := range result.Errors {
			report.Errors = append(report.Errors, e.Error())
		}
	}

	if a.sink != nil {
		a.sink.AuditResult(len(mismatches), jobs)
	}

	if a.uploader != nil {
		body, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to encode report: %w", err))
		} else if err := a.uploader.Upload(ctx, report.Key(a.prefix), body); err != nil {
			result = multierror.Append(result, err)
		}
	}

	ev := log.Info()
	if result != nil {
		ev = log.Warn().Int("problems", len(result.Errors))
	}
	ev.Int64("users", users).Int("mismatches", len(mismatches)).Msg("Ledger audit finished")

	return report, result.ErrorOrNil()
}
