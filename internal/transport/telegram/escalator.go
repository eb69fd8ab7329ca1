package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"promptmeter/internal/model"
)

// AdminEscalator forwards escalations to the admin chat, at most once per
// cooldown for each reason.
type AdminEscalator struct {
	sender   Sender
	adminID  int64
	cooldown time.Duration

	mu   sync.Mutex
	last map[model.FailureReason]time.Time
	now  func() time.Time
}

func NewAdminEscalator(sender Sender, adminID int64, cooldown time.Duration) *AdminEscalator {
	return &AdminEscalator{
		sender:   sender,
		adminID:  adminID,
		cooldown: cooldown,
		last:     make(map[model.FailureReason]time.Time),
		now:      time.Now,
	}
}

func (e *AdminEscalator) Escalate(_ context.Context, reason model.FailureReason, err error) {
	slog.Error("ESCALATION: operator action required", "reason", reason, "error", err)

	e.mu.Lock()
	now := e.now()
	if last, ok := e.last[reason]; ok && now.Sub(last) < e.cooldown {
		e.mu.Unlock()
		return
	}
	e.last[reason] = now
	e.mu.Unlock()

	text := fmt.Sprintf("🚨 AI gateway escalation: %s\n\n%v", reason, err)
	if _, sendErr := e.sender.Send(tgbotapi.NewMessage(e.adminID, text)); sendErr != nil {
		slog.Error("telegram: failed to notify admin", "admin_id", e.adminID, "error", sendErr)
	}
}
