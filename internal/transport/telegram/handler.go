package telegram

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"promptmeter/internal/model"
	"promptmeter/internal/service"
)

// Sender is the part of *tgbotapi.BotAPI the handler uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Handler renders one incoming Telegram message into exactly one reply.
type Handler struct {
	sender Sender
	svc    service.FulfillmentService
}

func NewHandler(sender Sender, svc service.FulfillmentService) *Handler {
	return &Handler{sender: sender, svc: svc}
}

func (h *Handler) Handle(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		h.handleCommand(ctx, msg)
		return
	}
	h.handleText(ctx, msg)
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		acc, err := h.svc.Account(ctx, msg.From.ID, profileOf(msg.From))
		if err != nil {
			slog.Error("telegram: failed to register user", "user_id", msg.From.ID, "error", err)
			h.send(msg.Chat.ID, "❌ Registration failed. Please try again later.")
			return
		}
		h.send(msg.Chat.ID, welcomeMessage(msg.From.FirstName, acc.Balance))
		slog.Info("telegram: user started", "user_id", msg.From.ID)
	case "balance":
		acc, err := h.svc.Account(ctx, msg.From.ID, profileOf(msg.From))
		if err != nil {
			slog.Error("telegram: failed to load balance", "user_id", msg.From.ID, "error", err)
			h.send(msg.Chat.ID, "❌ Could not load your balance. Please try again later.")
			return
		}
		h.send(msg.Chat.ID, balanceMessage(acc))
	default:
		h.send(msg.Chat.ID, helpMessage)
	}
}

func (h *Handler) handleText(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		h.send(msg.Chat.ID, "❌ Message cannot be empty.")
		return
	}

	placeholder, err := h.sender.Send(tgbotapi.NewMessage(msg.Chat.ID, "⏳ Processing your request..."))
	if err != nil {
		slog.Warn("telegram: failed to send placeholder", "user_id", msg.From.ID, "error", err)
	}

	out := h.svc.HandleRequest(ctx, msg.From.ID, profileOf(msg.From), text)
	reply := renderOutcome(out)

	if err == nil {
		_, editErr := h.sender.Send(tgbotapi.NewEditMessageText(msg.Chat.ID, placeholder.MessageID, reply))
		if editErr == nil {
			return
		}
		slog.Warn("telegram: failed to edit placeholder", "request_id", out.RequestID, "error", editErr)
	}
	h.send(msg.Chat.ID, reply)
}

func (h *Handler) send(chatID int64, text string) {
	if _, err := h.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.Error("telegram: failed to send message", "chat_id", chatID, "error", err)
	}
}

func profileOf(u *tgbotapi.User) model.Profile {
	return model.Profile{
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}
