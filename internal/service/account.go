package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"cryptra/internal/activity"
	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
	"cryptra/internal/repository"
)

// referralAlphabet omits look-alike characters. Its length divides 256, so
// reducing a random byte modulo it is unbiased.
const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ReferralCodeLength is the length of generated referral codes.
const ReferralCodeLength = 8

// GenerateReferralCode returns a random referral code.
func GenerateReferralCode() string {
	return referralCodeFrom(uuid.New())
}

func referralCodeFrom(id uuid.UUID) string {
	// Skip the version and variant bytes of a v4 uuid.
	idx := [ReferralCodeLength]int{0, 1, 2, 3, 4, 5, 10, 11}
	var b strings.Builder
	for _, i := range idx {
		b.WriteByte(referralAlphabet[int(id[i])%len(referralAlphabet)])
	}
	return b.String()
}

// NormalizeReferralCode upper-cases and trims a user-entered code.
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Streak counts consecutive UTC days with activity ending today, or ending
// yesterday when today has no activity yet.
func Streak(days []time.Time, today time.Time) int {
	seen := make(map[time.Time]bool, len(days))
	for _, d := range days {
		seen[UTCDay(d)] = true
	}

	cursor := UTCDay(today)
	if !seen[cursor] {
		cursor = cursor.AddDate(0, 0, -1)
	}
	n := 0
	for seen[cursor] {
		n++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return n
}

// CalendarDay is one cell of the check-in calendar.
type CalendarDay struct {
	Date      time.Time `json:"date"`
	CheckedIn bool      `json:"checked_in"`
	Today     bool      `json:"today"`
}

// WeekCalendar returns the seven days ending today, oldest first.
func WeekCalendar(days []time.Time, today time.Time) []CalendarDay {
	seen := make(map[time.Time]bool, len(days))
	for _, d := range days {
		seen[UTCDay(d)] = true
	}

	end := UTCDay(today)
	out := make([]CalendarDay, 0, 7)
	for i := 6; i >= 0; i-- {
		d := end.AddDate(0, 0, -i)
		out = append(out, CalendarDay{Date: d, CheckedIn: seen[d], Today: i == 0})
	}
	return out
}

// SignupRequest creates an account.
type SignupRequest struct {
	TelegramID   *int64
	DisplayName  string
	Email        string
	ReferralCode string
}

// AccountService manages accounts, profiles and dashboards.
type AccountService struct {
	runner      *db.Runner
	stores      Stores
	referrals   *ReferralService
	gate        *Gate
	registry    *activity.Registry
	clock       clockwork.Clock
	baseURL     string
	botUsername string
}

// NewAccountService creates an AccountService.
func NewAccountService(engine *Engine, referrals *ReferralService, gate *Gate, registry *activity.Registry, clock clockwork.Clock, baseURL, botUsername string) *AccountService {
	return &AccountService{
		runner:      engine.runner,
		stores:      engine.stores,
		referrals:   referrals,
		gate:        gate,
		registry:    registry,
		clock:       clock,
		baseURL:     strings.TrimRight(baseURL, "/"),
		botUsername: botUsername,
	}
}

func cleanDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Player"
	}
	if utf8.RuneCountInString(name) > 64 {
		name = string([]rune(name)[:64])
	}
	return name
}

// Register creates an account, or returns the existing one for a known
// Telegram id. A valid referral code attributes the user to its owner in the
// same transaction; unknown codes are ignored.
func (s *AccountService) Register(ctx context.Context, req SignupRequest) (*model.User, bool, error) {
	if req.TelegramID != nil {
		u, err := s.stores.Users.GetByTelegramID(ctx, *req.TelegramID)
		if err == nil {
			return u, false, nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, false, err
		}
	}

	var referrerID *uuid.UUID
	if code := NormalizeReferralCode(req.ReferralCode); code != "" {
		ref, err := s.stores.Users.GetByReferralCode(ctx, code)
		switch {
		case err == nil:
			referrerID = &ref.ID
		case errors.Is(err, repository.ErrUserNotFound):
			log.Debug().Str("code", code).Msg("Ignoring unknown referral code")
		default:
			return nil, false, err
		}
	}

	var (
		user    *model.User
		created bool
	)
	err := s.runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		users := s.stores.Users.WithTx(tx)
		if req.TelegramID != nil {
			u, err := users.GetByTelegramID(ctx, *req.TelegramID)
			if err == nil {
				user, created = u, false
				return nil
			}
			if !errors.Is(err, repository.ErrUserNotFound) {
				return err
			}
		}

		u, err := users.Create(ctx, &model.User{
			ID:           uuid.New(),
			TelegramID:   req.TelegramID,
			DisplayName:  cleanDisplayName(req.DisplayName),
			Email:        strings.TrimSpace(req.Email),
			ReferralCode: GenerateReferralCode(),
			ReferrerID:   referrerID,
		})
		if err != nil {
			return err
		}
		if referrerID != nil {
			if err := s.referrals.Attribute(ctx, tx, u.ID, *referrerID); err != nil {
				return err
			}
		}
		user, created = u, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to register user: %w", err)
	}

	if created {
		ev := log.Info().Str("user_id", user.ID.String()).Str("referral_code", user.ReferralCode)
		if referrerID != nil {
			ev = ev.Str("referrer_id", referrerID.String())
		}
		ev.Msg("User registered")
	}
	return user, created, nil
}

// GetUser returns a user by id.
func (s *AccountService) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.stores.Users.GetByID(ctx, id)
}

// GetByTelegramID returns the user linked to a Telegram account.
func (s *AccountService) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.stores.Users.GetByTelegramID(ctx, telegramID)
}

// UpdateDisplayName renames a user.
func (s *AccountService) UpdateDisplayName(ctx context.Context, id uuid.UUID, name string) error {
	return s.stores.Users.UpdateDisplayName(ctx, id, cleanDisplayName(name))
}

// ReferralLinks are the shareable invite links of a user.
type ReferralLinks struct {
	Code     string `json:"code"`
	Web      string `json:"web"`
	Telegram string `json:"telegram,omitempty"`
}

// ReferralLinks builds the invite links for u.
func (s *AccountService) ReferralLinks(u *model.User) ReferralLinks {
	links := ReferralLinks{
		Code: u.ReferralCode,
		Web:  s.baseURL + "/signup?ref=" + url.QueryEscape(u.ReferralCode),
	}
	if s.botUsername != "" {
		links.Telegram = "https://t.me/" + s.botUsername + "?start=" + url.QueryEscape(u.ReferralCode)
	}
	return links
}

// Profile is a user's public summary.
type Profile struct {
	User             *model.User                `json:"user"`
	Rank             int                        `json:"rank"`
	Referrals        *repository.ReferralCounts `json:"referrals"`
	LuckyDrawEntries int                        `json:"lucky_draw_entries"`
	TotalWithdrawn   decimal.Decimal            `json:"total_withdrawn"`
	Links            ReferralLinks              `json:"links"`
}

// GetProfile returns the profile of a user.
func (s *AccountService) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	u, err := s.stores.Users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rank, err := s.stores.Users.GetRank(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.stores.Referrals.CountReferred(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.stores.Products.CountLuckyDrawEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	withdrawn, err := s.stores.Withdrawals.TotalWithdrawn(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Profile{
		User:             u,
		Rank:             rank.Rank,
		Referrals:        counts,
		LuckyDrawEntries: entries,
		TotalWithdrawn:   withdrawn,
		Links:            s.ReferralLinks(u),
	}, nil
}

// Dashboard is the home screen of a user.
type Dashboard struct {
	User     *model.User          `json:"user"`
	Quotas   []QuotaStatus        `json:"quotas"`
	Streak   int                  `json:"streak"`
	Calendar []CalendarDay        `json:"calendar"`
	Recent   []*model.Transaction `json:"recent"`
}

// GetDashboard returns balances, today's quotas, the check-in streak and
// recent transactions.
func (s *AccountService) GetDashboard(ctx context.Context, id uuid.UUID) (*Dashboard, error) {
	u, err := s.stores.Users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	quotas, err := s.Quotas(ctx, id)
	if err != nil {
		return nil, err
	}

	today := s.gate.Today()
	days, err := s.stores.Activity.DaysWithActivity(ctx, id, model.ActivityCheckin, today.AddDate(-1, 0, 0))
	if err != nil {
		return nil, err
	}
	recent, err := s.stores.Transactions.GetByUserID(ctx, id, "", 10)
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		User:     u,
		Quotas:   quotas,
		Streak:   Streak(days, today),
		Calendar: WeekCalendar(days, today),
		Recent:   recent,
	}, nil
}

// Quotas returns today's usage of every fixed-quota activity and every
// active task.
func (s *AccountService) Quotas(ctx context.Context, id uuid.UUID) ([]QuotaStatus, error) {
	byKind, byTask, err := s.gate.Usage(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []QuotaStatus
	for _, a := range s.registry.List() {
		if a.Kind() == model.ActivityTask {
			continue
		}
		limit, _, err := a.Limit(ctx, activity.Request{UserID: id})
		if err != nil {
			return nil, err
		}
		out = append(out, NewQuotaStatus(a.Kind(), 0, byKind[a.Kind()], limit))
	}

	tasks, err := s.stores.Catalogue.ListActiveTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		out = append(out, NewQuotaStatus(model.ActivityTask, t.ID, byTask[t.ID], t.DailyLimit))
	}
	return out, nil
}

// ListTasks returns the active tasks.
func (s *AccountService) ListTasks(ctx context.Context) ([]*model.Task, error) {
	return s.stores.Catalogue.ListActiveTasks(ctx)
}

// ListAds returns the active advertisements.
func (s *AccountService) ListAds(ctx context.Context) ([]*model.Advertisement, error) {
	return s.stores.Catalogue.ListActiveAds(ctx)
}
