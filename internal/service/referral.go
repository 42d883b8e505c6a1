package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
	"cryptra/internal/repository"
)

// Ancestor is one hop above an earner in the referral chain.
type Ancestor struct {
	UserID uuid.UUID
	Level  int
	Active bool
}

// ParentFunc returns the direct referrer of id, whether that link is
// active, and found=false at the top of the chain.
type ParentFunc func(ctx context.Context, id uuid.UUID) (parent uuid.UUID, active, found bool, err error)

// WalkUpline follows direct-referrer links from earner for at most
// maxLevels hops. Revisiting the earner or any ancestor stops the walk with
// ErrReferralCycle; the ancestors found before the repeat are returned.
func WalkUpline(ctx context.Context, earner uuid.UUID, maxLevels int, parent ParentFunc) ([]Ancestor, error) {
	visited := map[uuid.UUID]bool{earner: true}
	chain := make([]Ancestor, 0, maxLevels)

	current := earner
	for level := 1; level <= maxLevels; level++ {
		next, active, found, err := parent(ctx, current)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		if visited[next] {
			return chain, fmt.Errorf("%w: %s repeats at level %d above %s", ErrReferralCycle, next, level, earner)
		}
		visited[next] = true
		chain = append(chain, Ancestor{UserID: next, Level: level, Active: active})
		current = next
	}
	return chain, nil
}

// Credit is one planned commission.
type Credit struct {
	UserID uuid.UUID
	Level  int
	Amount decimal.Decimal
}

// PlanCommission applies the level rates to amount. Inactive links and
// credits that truncate to zero at 6 decimal places are skipped.
func PlanCommission(amount decimal.Decimal, chain []Ancestor, rates []decimal.Decimal) []Credit {
	var credits []Credit
	for _, a := range chain {
		if !a.Active || a.Level < 1 || a.Level > len(rates) {
			continue
		}
		share := amount.Mul(rates[a.Level-1]).Truncate(6)
		if !share.IsPositive() {
			continue
		}
		credits = append(credits, Credit{UserID: a.UserID, Level: a.Level, Amount: share})
	}
	return credits
}

// CommissionKey is the idempotency key of one level's credit.
func CommissionKey(earner uuid.UUID, sourceTxID int64, level int) string {
	return fmt.Sprintf("referral:%s:%d:%d", earner, sourceTxID, level)
}

// ReferralPolicy holds the fan-out configuration.
type ReferralPolicy struct {
	MaxLevels   int
	Rates       []decimal.Decimal
	MaxAttempts int
	RetryDelay  time.Duration
	CacheSize   int
}

// ReferralService distributes commissions up the referral chain and
// attributes new users to their referrers.
type ReferralService struct {
	engine   *Engine
	runner   *db.Runner
	stores   Stores
	policy   ReferralPolicy
	chains   *lru.Cache[uuid.UUID, []Ancestor]
	clock    clockwork.Clock
	recorder Recorder
}

// NewReferralService creates a ReferralService.
func NewReferralService(engine *Engine, policy ReferralPolicy, clock clockwork.Clock) (*ReferralService, error) {
	if policy.MaxLevels < 1 || len(policy.Rates) < policy.MaxLevels {
		return nil, fmt.Errorf("referral policy needs %d rates, has %d", policy.MaxLevels, len(policy.Rates))
	}
	if policy.CacheSize <= 0 {
		policy.CacheSize = 1024
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	chains, err := lru.New[uuid.UUID, []Ancestor](policy.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain cache: %w", err)
	}
	return &ReferralService{
		engine:   engine,
		runner:   engine.runner,
		stores:   engine.stores,
		policy:   policy,
		chains:   chains,
		clock:    clock,
		recorder: engine.recorder,
	}, nil
}

func (s *ReferralService) directReferrer(ctx context.Context, id uuid.UUID) (uuid.UUID, bool, bool, error) {
	e, err := s.stores.Referrals.GetDirectReferrer(ctx, id)
	if errors.Is(err, repository.ErrEdgeNotFound) {
		return uuid.Nil, false, false, nil
	}
	if err != nil {
		return uuid.Nil, false, false, err
	}
	return e.ReferrerID, e.IsActive, true, nil
}

// Upline returns the earner's ancestors, nearest first. Complete chains are
// cached; SetEdgeActive invalidates the cache.
func (s *ReferralService) Upline(ctx context.Context, earner uuid.UUID) ([]Ancestor, error) {
	if chain, ok := s.chains.Get(earner); ok {
		return chain, nil
	}
	chain, err := WalkUpline(ctx, earner, s.policy.MaxLevels, s.directReferrer)
	if err != nil {
		return chain, err
	}
	s.chains.Add(earner, chain)
	return chain, nil
}

// DistributeCommission credits every active ancestor of earner its share of
// amount in one transaction. Credits are keyed by (earner, source tx, level)
// so running it twice for the same source credits nothing new.
func (s *ReferralService) DistributeCommission(ctx context.Context, earner uuid.UUID, sourceTxID int64, amount decimal.Decimal, source model.TxKind) ([]*Receipt, error) {
	var receipts []*Receipt
	err := s.runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		receipts, err = s.distributeTx(ctx, tx, earner, sourceTxID, amount, source)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to distribute commission: %w", err)
	}
	s.recordCredits(receipts)
	return receipts, nil
}

func (s *ReferralService) distributeTx(ctx context.Context, tx pgx.Tx, earner uuid.UUID, sourceTxID int64, amount decimal.Decimal, source model.TxKind) ([]*Receipt, error) {
	chain, walkErr := s.Upline(ctx, earner)
	if walkErr != nil && !errors.Is(walkErr, ErrReferralCycle) {
		return nil, walkErr
	}
	if walkErr != nil {
		s.recorder.ReferralCycle()
		log.Warn().Err(walkErr).Str("earner", earner.String()).Int64("source_tx_id", sourceTxID).
			Msg("Referral cycle, crediting levels below the repeat only")
	}

	earnerID := earner
	receipts := make([]*Receipt, 0, len(chain))
	for _, c := range PlanCommission(amount, chain, s.policy.Rates) {
		r, err := s.engine.creditReferralTx(ctx, tx, c.UserID, c.Amount, CommissionKey(earner, sourceTxID, c.Level), model.TxMetadata{
			Level:      c.Level,
			Source:     source,
			Earner:     &earnerID,
			SourceTxID: sourceTxID,
		})
		if err != nil {
			return nil, fmt.Errorf("level %d credit: %w", c.Level, err)
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

func (s *ReferralService) recordCredits(receipts []*Receipt) {
	for _, r := range receipts {
		if r.Replayed {
			continue
		}
		s.recorder.CommissionCredited(r.Metadata.Level, r.Amount)
		log.Info().
			Str("user_id", r.UserID.String()).
			Int("level", r.Metadata.Level).
			Str("amount", r.Amount.String()).
			Int64("source_tx_id", r.Metadata.SourceTxID).
			Msg("Referral commission credited")
	}
}

// ProcessJob runs one outbox job. The job row is claimed with SKIP LOCKED,
// so concurrent workers never run the same job; a job that is gone or
// already settled is skipped. Failures reschedule the job with exponential
// backoff until MaxAttempts, after which it is marked failed.
func (s *ReferralService) ProcessJob(ctx context.Context, jobID int64) error {
	var (
		receipts []*Receipt
		skipped  bool
	)
	err := s.runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		commissions := s.stores.Commissions.WithTx(tx)
		job, err := commissions.ClaimForUpdate(ctx, jobID)
		if errors.Is(err, repository.ErrJobNotFound) {
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}
		receipts, err = s.distributeTx(ctx, tx, job.EarnerID, job.SourceTransactionID, job.Amount, job.SourceKind)
		if err != nil {
			return err
		}
		return commissions.MarkDone(ctx, job.ID)
	})
	if err != nil {
		// The job context may be what failed; record the attempt on a fresh deadline.
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
		s.recordFailure(failCtx, jobID, err)
		cancel()
		return fmt.Errorf("commission job %d: %w", jobID, err)
	}
	if !skipped {
		s.recordCredits(receipts)
	}
	return nil
}

const failureRecordTimeout = 10 * time.Second

// RetryBackoff returns the delay before attempt n+1 after n failures,
// doubling from base and capped at one hour.
func RetryBackoff(base time.Duration, attempts int) time.Duration {
	const ceiling = time.Hour
	d := base
	for i := 1; i < attempts && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

func (s *ReferralService) recordFailure(ctx context.Context, jobID int64, cause error) {
	var (
		attempts int
		giveUp   bool
		recorded bool
	)
	err := s.runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		commissions := s.stores.Commissions.WithTx(tx)
		job, err := commissions.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != model.CommissionPending {
			return nil
		}
		attempts = job.Attempts + 1
		giveUp = attempts >= s.policy.MaxAttempts
		next := s.clock.Now().Add(RetryBackoff(s.policy.RetryDelay, attempts))
		if err := commissions.MarkAttemptFailed(ctx, jobID, next, cause.Error(), giveUp); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		log.Error().Err(err).AnErr("cause", cause).Int64("job_id", jobID).Msg("Failed to record commission job failure")
		return
	}
	if !recorded {
		return
	}

	s.recorder.CommissionFailed(giveUp)
	ev := log.Warn()
	if giveUp {
		ev = log.Error()
	}
	ev.Err(cause).Int64("job_id", jobID).Int("attempts", attempts).Bool("gave_up", giveUp).
		Msg("Commission job failed")
}

// Attribute links referred to referrer at level 1 and to each of the
// referrer's ancestors at the following levels, up to MaxLevels. Must run
// inside the signup transaction.
func (s *ReferralService) Attribute(ctx context.Context, tx pgx.Tx, referredID, referrerID uuid.UUID) error {
	if referredID == referrerID {
		return validationf("users cannot refer themselves")
	}
	referrals := s.stores.Referrals.WithTx(tx)
	if err := referrals.CreateEdge(ctx, model.ReferralEdge{
		ReferrerID: referrerID, ReferredID: referredID, Level: 1, IsActive: true,
	}); err != nil {
		return err
	}

	upline, err := referrals.ListUpline(ctx, referrerID)
	if err != nil {
		return err
	}
	for _, e := range upline {
		level := e.Level + 1
		if level > s.policy.MaxLevels {
			break
		}
		if e.ReferrerID == referredID {
			return fmt.Errorf("%w: %s is already above %s", ErrReferralCycle, referredID, referrerID)
		}
		if err := referrals.CreateEdge(ctx, model.ReferralEdge{
			ReferrerID: e.ReferrerID, ReferredID: referredID, Level: level, IsActive: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SetEdgeActive enables or disables commission on a referral link.
func (s *ReferralService) SetEdgeActive(ctx context.Context, referrerID, referredID uuid.UUID, active bool) error {
	if err := s.stores.Referrals.SetActive(ctx, referrerID, referredID, active); err != nil {
		if errors.Is(err, repository.ErrEdgeNotFound) {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return err
	}
	s.chains.Purge()
	return nil
}

// ReferralStats summarises a referrer's downline and commission.
type ReferralStats struct {
	Counts          *repository.ReferralCounts `json:"counts"`
	TodayCommission decimal.Decimal            `json:"today_commission"`
	TotalCommission decimal.Decimal            `json:"total_commission"`
	Referred        []repository.ReferredUser  `json:"referred"`
	Recent          []*model.Transaction       `json:"recent"`
}

// Stats returns referral counts, commission totals and the downline.
func (s *ReferralService) Stats(ctx context.Context, userID uuid.UUID, limit int) (*ReferralStats, error) {
	if limit <= 0 {
		limit = 20
	}
	counts, err := s.stores.Referrals.CountReferred(ctx, userID)
	if err != nil {
		return nil, err
	}
	today, err := s.stores.Transactions.SumByKindSince(ctx, userID, model.TxTypeReferral, UTCDay(s.clock.Now()))
	if err != nil {
		return nil, err
	}
	total, err := s.stores.Transactions.SumByKindSince(ctx, userID, model.TxTypeReferral, time.Time{})
	if err != nil {
		return nil, err
	}
	referred, err := s.stores.Referrals.ListReferred(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	recent, err := s.stores.Transactions.GetByUserID(ctx, userID, model.TxTypeReferral, limit)
	if err != nil {
		return nil, err
	}
	return &ReferralStats{
		Counts:          counts,
		TodayCommission: today,
		TotalCommission: total,
		Referred:        referred,
		Recent:          recent,
	}, nil
}
