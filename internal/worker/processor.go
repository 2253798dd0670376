package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"tutorpay/internal/model"
	"tutorpay/internal/notifier"
	"tutorpay/internal/service"
)

// DecisionWorker listens on the decision-event topic, informs the buyer of
// the outcome and neutralizes every outstanding admin prompt for the settled
// token. Everything here is fire-and-forget: a failed delivery is logged and
// never rolls back the committed decision.
type DecisionWorker struct {
	notify   notifier.Notifier
	natsConn *nats.Conn
}

func NewDecisionWorker(notify notifier.Notifier, nc *nats.Conn) *DecisionWorker {
	return &DecisionWorker{
		notify:   notify,
		natsConn: nc,
	}
}

// Run subscribes to the decided topic and blocks until ctx is cancelled.
func (w *DecisionWorker) Run(ctx context.Context) error {
	// QueueSubscribe: with several engine instances running, each decision
	// event is handled by exactly one of them, so the buyer hears exactly
	// once per decision.
	sub, err := w.natsConn.QueueSubscribe(service.TopicDecided, "decision_workers", func(m *nats.Msg) {
		var event model.DecisionEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			slog.Error("worker: failed to unmarshal decision event", "error", err)
			return
		}
		w.handle(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	slog.Info("Decision worker is running")

	<-ctx.Done()

	slog.Info("Worker received shutdown signal, draining subscription...")
	return sub.Drain()
}

func (w *DecisionWorker) handle(ctx context.Context, event model.DecisionEvent) {
	if err := w.notify.NotifyBuyer(ctx, event.BuyerID, buyerText(event)); err != nil {
		slog.Error("worker: buyer notification failed",
			"buyer_id", event.BuyerID,
			"purchase_id", event.PurchaseID,
			"error", err,
		)
	}

	final := finalText(event)
	for _, h := range event.Handles {
		if err := w.notify.FinalizeAdmin(ctx, h, final); err != nil {
			slog.Error("worker: prompt finalization failed",
				"admin_id", h.AdminID,
				"purchase_id", event.PurchaseID,
				"error", err,
			)
		}
	}

	slog.Info("worker: decision propagated",
		"purchase_id", event.PurchaseID,
		"decision", event.Decision,
		"handles", len(event.Handles),
	)
}

func buyerText(e model.DecisionEvent) string {
	if e.Decision == model.DecisionApprove {
		return fmt.Sprintf("Your payment for %s %q was approved.", e.ProductType, e.ProductTitle)
	}
	return fmt.Sprintf("Your payment for %s %q was rejected. You may submit new evidence.", e.ProductType, e.ProductTitle)
}

func finalText(e model.DecisionEvent) string {
	verb := "approved"
	if e.Decision == model.DecisionReject {
		verb = "rejected"
	}
	return fmt.Sprintf("Purchase #%d (%s %q) was %s by admin %d.",
		e.PurchaseID, e.ProductType, e.ProductTitle, verb, e.DecidedBy)
}

// Start implements the infrastructure.Server interface.
func (w *DecisionWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *DecisionWorker) Stop(ctx context.Context) error {
	return nil
}
