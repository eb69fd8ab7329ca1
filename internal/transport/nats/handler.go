package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"promptmeter/internal/model"
	"promptmeter/internal/service"
)

const (
	TopicSubmit = "requests.submit"
	TopicCredit = "commands.credit"
)

// drainTimeout bounds how long shutdown waits for buffered messages.
const drainTimeout = 30 * time.Second

// Handler serves fulfillment requests (request/reply) and credit commands over NATS.
type Handler struct {
	svc  service.FulfillmentService
	nc   *nats.Conn
	subs []*nats.Subscription

	// NATS delivers one subscription's messages sequentially; submits fan out
	// so a slow completion does not hold up other users.
	mu     sync.Mutex
	closed bool
	group  errgroup.Group
}

func NewHandler(svc service.FulfillmentService, nc *nats.Conn, workers int) *Handler {
	if workers <= 0 {
		workers = 1
	}
	h := &Handler{svc: svc, nc: nc}
	h.group.SetLimit(workers)
	return h
}

type errorReply struct {
	Error string `json:"error"`
}

// Start subscribes to command topics and blocks until ctx is cancelled (graceful shutdown).
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe(TopicSubmit, "fulfillment_group", func(m *nats.Msg) {
		h.onSubmit(ctx, m)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe(TopicCredit, "ledger_group", func(m *nats.Msg) {
		h.respond(m, h.handleCredit(context.WithoutCancel(ctx), m.Data))
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	slog.Info("NATS command handler is running")

	<-ctx.Done()
	slog.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		if err := s.Drain(); err != nil {
			slog.Warn("nats: drain failed", "subject", s.Subject, "error", err)
		}
	}
	if !waitDrained(h.subs, drainTimeout) {
		slog.Warn("nats: drain timed out, unsubscribing", "timeout", drainTimeout)
		for _, s := range h.subs {
			_ = s.Unsubscribe()
		}
	}
	h.close()
	return nil
}

// Stop is a no-op: Start drains on ctx cancellation and an unsubscribe here
// would cut the drain short.
func (h *Handler) Stop(ctx context.Context) error {
	return nil
}

// onSubmit runs a submit on the worker group. Messages delivered while the
// subscription drains are still served in full: the caller waits for a reply
// and a completed request may already have been charged.
func (h *Handler) onSubmit(ctx context.Context, m *nats.Msg) {
	ctx = context.WithoutCancel(ctx)
	if !h.dispatch(func() { h.respond(m, h.handleSubmit(ctx, m.Data)) }) {
		h.respond(m, errorReply{Error: "shutting_down"})
	}
}

// dispatch hands fn to the worker group unless the handler is closed. Go is
// only called under mu with closed unset, so it never races close's Wait.
func (h *Handler) dispatch(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.group.Go(func() error {
		fn()
		return nil
	})
	return true
}

// close rejects further dispatches and waits for in-flight ones.
func (h *Handler) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	_ = h.group.Wait()
}

// waitDrained polls until every subscription finished draining or timeout passes.
func waitDrained(subs []*nats.Subscription, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		drained := true
		for _, s := range subs {
			if s.IsValid() {
				drained = false
				break
			}
		}
		if drained {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func (h *Handler) handleSubmit(ctx context.Context, data []byte) interface{} {
	var req model.FulfillRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Error("nats: failed to unmarshal submit request", "error", err)
		return errorReply{Error: "invalid_json"}
	}
	if req.UserID <= 0 {
		return errorReply{Error: "invalid_user_id"}
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return errorReply{Error: model.ErrEmptyPrompt.Error()}
	}
	return h.svc.HandleRequest(ctx, req.UserID, req.Profile(), text)
}

func (h *Handler) handleCredit(ctx context.Context, data []byte) interface{} {
	var req model.CreditRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Error("nats: failed to unmarshal credit command", "error", err)
		return errorReply{Error: "invalid_json"}
	}
	res, err := h.svc.Credit(ctx, req)
	if err != nil {
		slog.Error("nats: credit failed", "error", err, "user_id", req.UserID)
		return errorReply{Error: service.ErrorCode(err)}
	}
	return res
}

// respond answers request/reply callers; fire-and-forget publishers get nothing.
func (h *Handler) respond(m *nats.Msg, reply interface{}) {
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("nats: failed to marshal reply", "error", err)
		return
	}
	if err := m.Respond(data); err != nil {
		slog.Error("nats: failed to send reply", "error", err, "subject", m.Subject)
	}
}
