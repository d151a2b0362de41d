package reconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrymomot/clubbilling/pkg/email"
)

// TriageNotifier is told about events that need a human, such as an event
// whose owner cannot be resolved.
type TriageNotifier interface {
	Notify(ctx context.Context, rec Record, cause error) error
}

// EmailTriage mails the operator address.
type EmailTriage struct {
	sender email.Sender
	to     string
}

func NewEmailTriage(sender email.Sender, to string) *EmailTriage {
	return &EmailTriage{sender: sender, to: to}
}

func (n *EmailTriage) Notify(ctx context.Context, rec Record, cause error) error {
	var body strings.Builder
	fmt.Fprintf(&body, "Billing event %s (%s) could not be applied.\n\n", rec.EventID, rec.Type)
	fmt.Fprintf(&body, "Reason: %v\n", cause)
	fmt.Fprintf(&body, "Received: %s\n", rec.ReceivedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if rec.RetryCount > 0 {
		fmt.Fprintf(&body, "Retries: %d\n", rec.RetryCount)
	}
	body.WriteString("\nFix the owner mapping and retry the event.\n")

	return n.sender.Send(ctx, email.Message{
		To:       n.to,
		Subject:  "Billing event needs attention: " + rec.Type,
		TextBody: body.String(),
		Tag:      "billing-triage",
	})
}
