package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"tutorpay/internal/model"
	"tutorpay/internal/service"
)

const (
	subjectEvidence  = "evidence.submitted"
	subjectDecisions = "decisions.submitted"
)

// decisionMessage is what the chat gateway forwards when an administrator
// taps a control: the raw callback data, verbatim, plus the tapping admin.
type decisionMessage struct {
	AdminID int64  `json:"admin_id"`
	Data    string `json:"data"`
}

// Handler subscribes to the gateway's inbound subjects and delegates to the
// payment service.
type Handler struct {
	svc  service.PaymentService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.PaymentService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to command topics and blocks until ctx is cancelled
// (graceful shutdown).
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe(subjectEvidence, "engine_group", func(m *nats.Msg) {
		var req model.SubmitRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal evidence submission", "error", err)
			return
		}
		if _, err := h.svc.SubmitEvidence(ctx, req); err != nil {
			// Rejections are expected traffic here; the HTTP surface is the
			// one that renders them to users.
			slog.Info("nats: evidence submission rejected", "error", err, "buyer_id", req.BuyerID)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe(subjectDecisions, "engine_group", func(m *nats.Msg) {
		var msg decisionMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("nats: failed to unmarshal decision message", "error", err)
			return
		}
		cb, err := model.ParseDecisionCallback(msg.Data)
		if err != nil {
			slog.Error("nats: malformed decision callback", "error", err, "admin_id", msg.AdminID)
			return
		}
		res, err := h.svc.Decide(ctx, cb, msg.AdminID)
		if err != nil {
			if errors.Is(err, service.ErrNotAuthorized) {
				slog.Warn("nats: decision from non-admin ignored", "admin_id", msg.AdminID)
				return
			}
			slog.Error("nats: decision failed", "error", err, "admin_id", msg.AdminID)
			return
		}
		slog.Info("nats: decision processed", "admin_id", msg.AdminID, "status", res.Status)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	slog.Info("NATS command handler is running")

	// Block until context is cancelled.
	<-ctx.Done()
	slog.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
