// Package metrics exposes ledger, worker and HTTP counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"cryptra/internal/model"
	"cryptra/internal/service"
)

const namespace = "cryptra"

const (
	subsystemLedger   = "ledger"
	subsystemReferral = "referral"
	subsystemHTTP     = "http"
	subsystemPool     = "db_pool"
)

// Collector records ledger events. It implements service.Recorder.
type Collector struct {
	earnings        *prometheus.CounterVec
	earnedCash      *prometheus.CounterVec
	earnedCoins     *prometheus.CounterVec
	denials         *prometheus.CounterVec
	spentCoins      *prometheus.CounterVec
	withdrawals     prometheus.Counter
	withdrawnCash   prometheus.Counter
	commissions     *prometheus.CounterVec
	commissionCash  *prometheus.CounterVec
	commissionFails *prometheus.CounterVec
	referralCycles  prometheus.Counter
	replays         *prometheus.CounterVec
	txRetries       *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	auditMismatches prometheus.Gauge
	commissionQueue *prometheus.GaugeVec
}

var _ service.Recorder = (*Collector)(nil)

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		earnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "earnings_total",
			Help:      "number of credited earning events",
		}, []string{"kind"}),
		earnedCash: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "earned_cash_dollars_total",
			Help:      "cash credited by earning events",
		}, []string{"kind"}),
		earnedCoins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "earned_coins_total",
			Help:      "coins credited by earning events",
		}, []string{"kind"}),
		denials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "quota_denials_total",
			Help:      "earning attempts denied by the daily gate",
		}, []string{"kind", "reason"}),
		spentCoins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "spent_coins_total",
			Help:      "coins debited",
		}, []string{"kind"}),
		withdrawals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "withdrawals_total",
			Help:      "withdrawal requests accepted",
		}),
		withdrawnCash: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "withdrawn_cash_dollars_total",
			Help:      "cash reserved by withdrawal requests",
		}),
		commissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemReferral,
			Name:      "commissions_total",
			Help:      "referral commissions credited",
		}, []string{"level"}),
		commissionCash: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemReferral,
			Name:      "commission_dollars_total",
			Help:      "cash credited as referral commission",
		}, []string{"level"}),
		commissionFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemReferral,
			Name:      "commission_failures_total",
			Help:      "failed fan-out attempts, by whether the job was abandoned",
		}, []string{"final"}),
		referralCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemReferral,
			Name:      "cycles_total",
			Help:      "upline walks that hit a cycle",
		}),
		replays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "replays_total",
			Help:      "requests answered from a prior idempotent result",
		}, []string{"kind"}),
		txRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "tx_retries_total",
			Help:      "ledger transactions retried, by error class",
		}, []string{"class"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		auditMismatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemLedger,
			Name:      "audit_mismatches",
			Help:      "users whose balances disagreed with the ledger at the last audit",
		}),
		commissionQueue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemReferral,
			Name:      "jobs",
			Help:      "commission outbox jobs by status at the last audit",
		}, []string{"status"}),
	}
}

// float64 precision is fine for dashboards; the ledger stays exact.
func dollars(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func (c *Collector) Earned(kind model.TxKind, cash decimal.Decimal, coins int64) {
	c.earnings.WithLabelValues(string(kind)).Inc()
	c.earnedCash.WithLabelValues(string(kind)).Add(dollars(cash))
	c.earnedCoins.WithLabelValues(string(kind)).Add(float64(coins))
}

func (c *Collector) Denied(kind model.ActivityKind, reason service.DenialReason) {
	c.denials.WithLabelValues(string(kind), string(reason)).Inc()
}

func (c *Collector) Spent(kind model.TxKind, coins int64) {
	c.spentCoins.WithLabelValues(string(kind)).Add(float64(coins))
}

func (c *Collector) WithdrawalRequested(amount decimal.Decimal) {
	c.withdrawals.Inc()
	c.withdrawnCash.Add(dollars(amount))
}

func (c *Collector) CommissionCredited(level int, amount decimal.Decimal) {
	l := strconv.Itoa(level)
	c.commissions.WithLabelValues(l).Inc()
	c.commissionCash.WithLabelValues(l).Add(dollars(amount))
}

func (c *Collector) CommissionFailed(giveUp bool) {
	c.commissionFails.WithLabelValues(strconv.FormatBool(giveUp)).Inc()
}

func (c *Collector) ReferralCycle() {
	c.referralCycles.Inc()
}

func (c *Collector) Replayed(kind model.TxKind) {
	c.replays.WithLabelValues(string(kind)).Inc()
}

// TxRetry counts a ledger retry. Pass it to db.Runner.OnRetry.
func (c *Collector) TxRetry(class string) {
	c.txRetries.WithLabelValues(class).Inc()
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(method, route string, code int, took time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// AuditResult publishes the outcome of a reconciliation run.
func (c *Collector) AuditResult(mismatches int, jobs map[model.CommissionStatus]int64) {
	c.auditMismatches.Set(float64(mismatches))
	for _, s := range []model.CommissionStatus{model.CommissionPending, model.CommissionDone, model.CommissionFailed} {
		c.commissionQueue.WithLabelValues(string(s)).Set(float64(jobs[s]))
	}
}

// RegisterPoolStats exports connection pool gauges read from stat on scrape.
func RegisterPoolStats(reg prometheus.Registerer, stat func() *pgxpool.Stat) {
	f := promauto.With(reg)
	gauge := func(name, help string, value func(s *pgxpool.Stat) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemPool,
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stat()) })
	}
	gauge("total_conns", "connections currently open", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) })
	gauge("acquired_conns", "connections checked out", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) })
	gauge("idle_conns", "idle connections", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) })
	gauge("max_conns", "pool size limit", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) })
}

// RegisterQueueSize exports the commission dispatcher backlog.
func RegisterQueueSize(reg prometheus.Registerer, size func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemReferral,
		Name:      "dispatch_backlog",
		Help:      "commission jobs waiting for a worker",
	}, func() float64 { return float64(size()) })
}
