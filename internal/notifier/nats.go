package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"tutorpay/internal/model"
)

const (
	subjectPrompt   = "gateway.prompt"
	subjectFinalize = "gateway.finalize"
	subjectBuyer    = "gateway.notify.buyer"

	promptTimeout = 5 * time.Second
)

type promptRequest struct {
	AdminID         int64  `json:"admin_id"`
	Text            string `json:"text"`
	ApproveCallback string `json:"approve_callback"`
	RejectCallback  string `json:"reject_callback"`
}

type promptReply struct {
	MessageID int64  `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

type finalizeRequest struct {
	AdminID   int64  `json:"admin_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

type buyerNotice struct {
	BuyerID int64  `json:"buyer_id"`
	Text    string `json:"text"`
}

// NatsNotifier delivers through the chat gateway over NATS. Prompts use
// request/reply so the gateway can report the platform message id; finalize
// and buyer notices are plain publishes.
type NatsNotifier struct {
	nc *nats.Conn
}

func NewNatsNotifier(nc *nats.Conn) *NatsNotifier {
	return &NatsNotifier{nc: nc}
}

func (n *NatsNotifier) PromptAdmin(ctx context.Context, adminID int64, text, token string) (model.NotificationHandle, error) {
	req := promptRequest{
		AdminID:         adminID,
		Text:            text,
		ApproveCallback: model.CallbackData(token, model.DecisionApprove),
		RejectCallback:  model.CallbackData(token, model.DecisionReject),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return model.NotificationHandle{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, promptTimeout)
	defer cancel()

	msg, err := n.nc.RequestWithContext(ctx, subjectPrompt, data)
	if err != nil {
		return model.NotificationHandle{}, fmt.Errorf("prompt admin %d: %w", adminID, err)
	}

	var reply promptReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return model.NotificationHandle{}, fmt.Errorf("decode gateway reply: %w", err)
	}
	if reply.Error != "" {
		return model.NotificationHandle{}, fmt.Errorf("gateway refused prompt for admin %d: %s", adminID, reply.Error)
	}

	return model.NotificationHandle{AdminID: adminID, MessageID: reply.MessageID}, nil
}

func (n *NatsNotifier) FinalizeAdmin(ctx context.Context, h model.NotificationHandle, text string) error {
	data, err := json.Marshal(finalizeRequest{
		AdminID:   h.AdminID,
		MessageID: h.MessageID,
		Text:      text,
	})
	if err != nil {
		return err
	}
	return n.nc.Publish(subjectFinalize, data)
}

func (n *NatsNotifier) NotifyBuyer(ctx context.Context, buyerID int64, text string) error {
	data, err := json.Marshal(buyerNotice{BuyerID: buyerID, Text: text})
	if err != nil {
		return err
	}
	return n.nc.Publish(subjectBuyer, data)
}
