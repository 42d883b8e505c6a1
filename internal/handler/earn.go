package handler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	tele "gopkg.in/telebot.v3"

	"cryptra/internal/model"
	"cryptra/internal/service"
)

// CallbackAdDone is the prefix of the "I watched it" button.
const CallbackAdDone = "ad_done:"

// adView is an ad shown to a user and not yet claimed.
type adView struct {
	shownAt time.Time
	key     string
}

// EarnHandler handles the quota-gated earning commands.
type EarnHandler struct {
	rewards  *service.Rewards
	accounts *service.AccountService
	session  *Session
	clock    clockwork.Clock
	views    sync.Map // "userID:adID" -> adView
}

// NewEarnHandler creates a new EarnHandler.
func NewEarnHandler(rewards *service.Rewards, accounts *service.AccountService, session *Session, clock clockwork.Clock) *EarnHandler {
	return &EarnHandler{
		rewards:  rewards,
		accounts: accounts,
		session:  session,
		clock:    clock,
	}
}

// HandleCheckin handles /checkin.
func (h *EarnHandler) HandleCheckin(c tele.Context) error {
	return h.earn(c, model.ActivityCheckin, service.EarnContext{})
}

// HandleTreasure handles /treasure.
func (h *EarnHandler) HandleTreasure(c tele.Context) error {
	return h.earn(c, model.ActivityTreasure, service.EarnContext{})
}

// HandleScratch handles /scratch.
func (h *EarnHandler) HandleScratch(c tele.Context) error {
	return h.earn(c, model.ActivityScratchCard, service.EarnContext{})
}

// HandleTask handles /task <id>.
func (h *EarnHandler) HandleTask(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /task <id>\nSee /tasks for the list")
	}
	taskID, err := argInt(args, 0, 0)
	if err != nil {
		return c.Reply("❌ " + err.Error())
	}
	return h.earn(c, model.ActivityTask, service.EarnContext{TaskID: taskID})
}

func (h *EarnHandler) earn(c tele.Context, kind model.ActivityKind, ec service.EarnContext) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, string(kind), err)
	}
	if ec.RequestKey == "" {
		ec.RequestKey = requestKey(c)
	}
	receipt, err := h.rewards.GateAndEarn(ctx, id, kind, ec)
	if err != nil {
		return replyError(c, string(kind), err)
	}
	return c.Reply(FormatEarning(receipt))
}

// FormatEarning renders a credit receipt.
func FormatEarning(r *service.Receipt) string {
	var b strings.Builder
	b.WriteString("✅ ")
	if r.Description != "" {
		b.WriteString(r.Description)
	} else {
		b.WriteString(string(r.Kind))
	}
	b.WriteString("\n")
	if r.Amount.IsPositive() {
		fmt.Fprintf(&b, "💵 +%s\n", money(r.Amount))
	}
	if r.Coins > 0 {
		fmt.Fprintf(&b, "🪙 +%d\n", r.Coins)
	}
	fmt.Fprintf(&b, "Balance: %s · %d coins", money(r.Balance), r.CoinBalance)
	return b.String()
}

// HandleAd handles /ad [id]. The reward is claimed with the button once the
// ad's duration has elapsed.
func (h *EarnHandler) HandleAd(c tele.Context) error {
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return replyError(c, "ad", err)
	}
	ads, err := h.accounts.ListAds(ctx)
	if err != nil {
		return replyError(c, "ad", err)
	}
	if len(ads) == 0 {
		return c.Reply("📺 No ads available right now")
	}

	ad := ads[0]
	if want, err := argInt(c.Args(), 0, 0); err == nil && want != 0 {
		ad = nil
		for _, a := range ads {
			if a.ID == want {
				ad = a
			}
		}
		if ad == nil {
			return c.Reply("❌ Ad not found")
		}
	}

	now := h.clock.Now()
	h.views.Store(viewKey(id, ad.ID), adView{
		shownAt: now,
		key:     fmt.Sprintf("tg:ad:%d:%d", ad.ID, now.UnixNano()),
	})

	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.Data("✅ I watched it", CallbackAdDone+strconv.FormatInt(ad.ID, 10))))
	return c.Send(fmt.Sprintf(
		"📺 %s\n%s\nWatch for %d seconds, then claim %s",
		ad.Title, divider, ad.DurationSeconds, money(ad.RewardAmount),
	), markup)
}

// HandleAdCallback claims an ad reward.
func (h *EarnHandler) HandleAdCallback(c tele.Context, data string) error {
	adID, err := strconv.ParseInt(strings.TrimPrefix(data, CallbackAdDone), 10, 64)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Invalid ad"})
	}
	ctx := senderContext(c)
	id, err := h.session.CurrentUser(ctx)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: ErrorMessage(err), ShowAlert: true})
	}

	v, ok := h.views.Load(viewKey(id, adID))
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Open the ad with /ad first", ShowAlert: true})
	}
	view := v.(adView)

	ads, err := h.accounts.ListAds(ctx)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: ErrorMessage(err)})
	}
	for _, a := range ads {
		if a.ID != adID {
			continue
		}
		wait := time.Duration(a.DurationSeconds)*time.Second - h.clock.Since(view.shownAt)
		if wait > 0 {
			return c.Respond(&tele.CallbackResponse{
				Text: fmt.Sprintf("⏳ Keep watching, %d seconds left", int(wait.Seconds()+0.999)),
			})
		}
	}

	receipt, err := h.rewards.GateAndEarn(ctx, id, model.ActivityAdWatch, service.EarnContext{
		AdID:       adID,
		RequestKey: view.key,
	})
	if err != nil {
		_ = c.Respond()
		return replyError(c, "ad", err)
	}
	h.views.Delete(viewKey(id, adID))
	_ = c.Respond(&tele.CallbackResponse{Text: "Reward credited"})
	return c.Edit(FormatEarning(receipt))
}

func viewKey(userID uuid.UUID, adID int64) string {
	return userID.String() + ":" + strconv.FormatInt(adID, 10)
}

// PruneViews drops unclaimed ad views older than maxAge.
func (h *EarnHandler) PruneViews(maxAge time.Duration) int {
	n := 0
	h.views.Range(func(k, v any) bool {
		if h.clock.Since(v.(adView).shownAt) > maxAge {
			h.views.Delete(k)
			n++
		}
		return true
	})
	return n
}
