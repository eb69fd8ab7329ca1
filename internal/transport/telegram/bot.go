package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"promptmeter/internal/service"
)

// Bot long-polls Telegram and handles updates concurrently, up to workers at a time.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
	workers int
}

// NewAPI authenticates against Telegram. The same client backs the Bot and the AdminEscalator.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: failed to authenticate bot: %w", err)
	}
	return api, nil
}

func NewBot(api *tgbotapi.BotAPI, svc service.FulfillmentService, workers int) *Bot {
	if workers <= 0 {
		workers = 1
	}
	return &Bot{
		api:     api,
		handler: NewHandler(api, svc),
		workers: workers,
	}
}

// Start polls for updates until ctx is cancelled, then waits for in-flight requests.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	// In-flight requests finish after shutdown starts: the user already waits
	// for an answer and may already have been charged.
	handlerCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(b.workers)

	slog.Info("Telegram bot is running", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Telegram bot shutting down, waiting for in-flight requests...")
			b.api.StopReceivingUpdates()
			return g.Wait()
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			g.Go(func() error {
				b.handler.Handle(handlerCtx, msg)
				return nil
			})
		}
	}
}

func (b *Bot) Stop(ctx context.Context) error {
	return nil
}
