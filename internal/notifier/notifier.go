package notifier

import (
	"context"

	"tutorpay/internal/model"
)

// Notifier is the chat-platform collaborator boundary. The engine never talks
// to the messaging platform directly; it asks the gateway to deliver prompts
// and final texts and records the handles the gateway reports back.
type Notifier interface {
	// PromptAdmin delivers a decision prompt with approve/reject controls to
	// one administrator and returns the resulting message handle.
	PromptAdmin(ctx context.Context, adminID int64, text, token string) (model.NotificationHandle, error)

	// FinalizeAdmin replaces a previously sent prompt with a terminal
	// rendering: controls removed, final status text shown.
	FinalizeAdmin(ctx context.Context, h model.NotificationHandle, text string) error

	// NotifyBuyer informs the buyer of a decision outcome.
	NotifyBuyer(ctx context.Context, buyerID int64, text string) error
}
