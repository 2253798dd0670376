package worker

import (
	"context"
	"strings"
	"testing"

	"tutorpay/internal/model"
)

type mockNotifier struct {
	buyerID    int64
	buyerText  string
	buyerCalls int
	finalized  []model.NotificationHandle
	finalText  string
}

func (m *mockNotifier) PromptAdmin(ctx context.Context, adminID int64, text, token string) (model.NotificationHandle, error) {
	return model.NotificationHandle{}, nil
}

func (m *mockNotifier) FinalizeAdmin(ctx context.Context, h model.NotificationHandle, text string) error {
	m.finalized = append(m.finalized, h)
	m.finalText = text
	return nil
}

func (m *mockNotifier) NotifyBuyer(ctx context.Context, buyerID int64, text string) error {
	m.buyerCalls++
	m.buyerID = buyerID
	m.buyerText = text
	return nil
}

func TestHandle_NotifiesBuyerAndFinalizesAllPrompts(t *testing.T) {
	notify := &mockNotifier{}
	w := NewDecisionWorker(notify, nil)

	event := model.DecisionEvent{
		PurchaseID:   7,
		BuyerID:      555,
		ProductType:  model.ProductBook,
		ProductTitle: "Creative Math",
		Decision:     model.DecisionApprove,
		DecidedBy:    111,
		Handles: []model.NotificationHandle{
			{AdminID: 111, MessageID: 10},
			{AdminID: 222, MessageID: 11},
		},
	}
	w.handle(context.Background(), event)

	if notify.buyerCalls != 1 || notify.buyerID != 555 {
		t.Fatalf("buyer must be notified exactly once, got %d calls for %d", notify.buyerCalls, notify.buyerID)
	}
	if !strings.Contains(notify.buyerText, "approved") {
		t.Fatalf("buyer text should carry the outcome, got %q", notify.buyerText)
	}
	if len(notify.finalized) != 2 {
		t.Fatalf("every recorded prompt must be finalized, got %d", len(notify.finalized))
	}
	if !strings.Contains(notify.finalText, "admin 111") {
		t.Fatalf("final text should attribute the decision, got %q", notify.finalText)
	}
}

func TestHandle_RejectionText(t *testing.T) {
	notify := &mockNotifier{}
	w := NewDecisionWorker(notify, nil)

	w.handle(context.Background(), model.DecisionEvent{
		BuyerID:      555,
		ProductType:  model.ProductCourse,
		ProductTitle: "Algebra II",
		Decision:     model.DecisionReject,
	})

	if !strings.Contains(notify.buyerText, "rejected") || !strings.Contains(notify.buyerText, "new evidence") {
		t.Fatalf("rejection must invite a retry, got %q", notify.buyerText)
	}
}
