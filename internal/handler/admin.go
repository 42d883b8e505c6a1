package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"cryptra/internal/model"
	"cryptra/internal/service"
)

// AdminHandler handles the withdrawal back office.
type AdminHandler struct {
	backOffice *service.BackOffice
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(backOffice *service.BackOffice) *AdminHandler {
	return &AdminHandler{
		backOffice: backOffice,
	}
}

// HandlePending handles /pending: withdrawals awaiting review.
func (h *AdminHandler) HandlePending(c tele.Context) error {
	list, err := h.backOffice.Pending(senderContext(c), 20)
	if err != nil {
		return replyError(c, "pending", err)
	}
	if len(list) == 0 {
		return c.Reply("✅ No pending withdrawals")
	}

	var b strings.Builder
	b.WriteString("🗂 Pending withdrawals\n" + divider + "\n")
	for _, w := range list {
		fmt.Fprintf(&b, "%s\n   %s (net %s) · %s → %s · %s\n",
			w.ID, money(w.Amount), money(w.NetAmount), w.Method, w.Destination, w.Status)
	}
	b.WriteString(divider + "\n/wd_approve <id> · /wd_complete <id> · /wd_reject <id> [reason]")
	return c.Reply(b.String())
}

// HandleApprove handles /wd_approve <id> [note].
func (h *AdminHandler) HandleApprove(c tele.Context) error {
	return h.transition(c, "wd_approve", h.backOffice.Approve)
}

// HandleComplete handles /wd_complete <id> [note].
func (h *AdminHandler) HandleComplete(c tele.Context) error {
	return h.transition(c, "wd_complete", h.backOffice.Complete)
}

// HandleReject handles /wd_reject <id> [reason]. The amount is refunded.
func (h *AdminHandler) HandleReject(c tele.Context) error {
	return h.transition(c, "wd_reject", h.backOffice.Reject)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, note string) (*model.Withdrawal, error)

func (h *AdminHandler) transition(c tele.Context, op string, fn transitionFunc) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	id, note, err := parseAdminArgs(op, c.Args())
	if err != nil {
		return c.Reply(err.Error())
	}

	w, err := fn(senderContext(c), id, note)
	if err != nil {
		return replyError(c, op, err)
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Str("withdrawal_id", w.ID.String()).
		Str("status", string(w.Status)).
		Str("operation", op).
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf(
		"%s Withdrawal %s\n\n👤 User: %s\n💸 Amount: %s\n📝 Status: %s",
		statusEmoji(w.Status), w.ID, w.UserID, money(w.Amount), w.Status,
	))
}

// parseAdminArgs parses <withdrawal_id> [note...].
func parseAdminArgs(op string, args []string) (uuid.UUID, string, error) {
	if len(args) < 1 {
		return uuid.Nil, "", fmt.Errorf("❌ Usage: /%s <withdrawal_id> [note]", op)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("❌ Invalid withdrawal id")
	}
	return id, strings.Join(args[1:], " "), nil
}
