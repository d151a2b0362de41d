package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrymomot/clubbilling/pkg/email"
	"github.com/dmitrymomot/clubbilling/pkg/ledger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
)

// NoticeKind names an owner-facing billing message.
type NoticeKind string

const (
	NoticeWelcome          NoticeKind = "subscription_welcome"
	NoticePaymentSucceeded NoticeKind = "payment_succeeded"
	NoticePaymentFailed    NoticeKind = "payment_failed"
	NoticeCanceled         NoticeKind = "subscription_canceled"
	NoticeTrialEnding      NoticeKind = "trial_ending"
)

// notices maps event types to the notice sent once the event is applied.
// invoice.paid is left out: the provider sends it next to
// invoice.payment_succeeded for the same invoice.
var notices = map[string]NoticeKind{
	TypeCheckoutCompleted:       NoticeWelcome,
	TypeInvoicePaymentSucceeded: NoticePaymentSucceeded,
	TypeInvoicePaymentFailed:    NoticePaymentFailed,
	TypeSubscriptionDeleted:     NoticeCanceled,
	TypeSubscriptionTrialEnding: NoticeTrialEnding,
}

// noticeFits reports whether status is the one kind announces. An event
// ignored by the ledger, such as one about a replaced provider subscription,
// leaves a status that does not fit. The opening invoice of a trial leaves
// the owner trialing and is not worth a payment mail.
func noticeFits(kind NoticeKind, status ledger.Status) bool {
	switch kind {
	case NoticeWelcome:
		return status == ledger.StatusActive || status == ledger.StatusTrialing
	case NoticePaymentSucceeded:
		return status == ledger.StatusActive
	case NoticePaymentFailed:
		return status == ledger.StatusPastDue
	case NoticeCanceled:
		return status == ledger.StatusCanceled
	}
	return true
}

// Notice is what the owner is told about an applied event.
type Notice struct {
	Kind        NoticeKind
	EventID     string
	PlanID      string
	PeriodEnd   *time.Time
	TrialEndsAt *time.Time
}

// OwnerNotifier tells the billing contact of a tenant or club about changes
// to their subscription.
type OwnerNotifier interface {
	NotifyOwner(ctx context.Context, b owner.Billable, n Notice) error
}

// EmailNotifier mails the owner's billing address.
type EmailNotifier struct {
	sender email.Sender
}

func NewEmailNotifier(sender email.Sender) *EmailNotifier {
	return &EmailNotifier{sender: sender}
}

func (n *EmailNotifier) NotifyOwner(ctx context.Context, b owner.Billable, notice Notice) error {
	to := b.BillingEmail()
	if to == "" {
		return fmt.Errorf("%w: %s %s", ErrNoBillingEmail, b.OwnerKind(), b.OwnerID())
	}
	subject, body := renderNotice(notice)
	return n.sender.Send(ctx, email.Message{
		To:       to,
		Subject:  subject,
		TextBody: body,
		Tag:      "billing-" + strings.ReplaceAll(string(notice.Kind), "_", "-"),
	})
}

func renderNotice(n Notice) (subject, body string) {
	var b strings.Builder
	switch n.Kind {
	case NoticeWelcome:
		subject = "Your subscription is active"
		fmt.Fprintf(&b, "Thank you for subscribing to the %s plan.\n", planName(n.PlanID))
		if n.TrialEndsAt != nil {
			fmt.Fprintf(&b, "Your trial runs until %s.\n", day(*n.TrialEndsAt))
		}
	case NoticePaymentSucceeded:
		subject = "Payment received"
		b.WriteString("We received your subscription payment.\n")
		if n.PeriodEnd != nil {
			fmt.Fprintf(&b, "Your subscription is paid until %s.\n", day(*n.PeriodEnd))
		}
	case NoticePaymentFailed:
		subject = "Payment failed"
		b.WriteString("We could not collect your subscription payment.\n")
		b.WriteString("Please update your payment method to keep access to paid features.\n")
	case NoticeCanceled:
		subject = "Your subscription was canceled"
		fmt.Fprintf(&b, "Your %s subscription has been canceled.\n", planName(n.PlanID))
		b.WriteString("You can subscribe again at any time.\n")
	case NoticeTrialEnding:
		subject = "Your trial ends soon"
		if n.TrialEndsAt != nil {
			fmt.Fprintf(&b, "Your trial ends on %s.\n", day(*n.TrialEndsAt))
		} else {
			b.WriteString("Your trial ends soon.\n")
		}
		b.WriteString("Add a payment method to continue without interruption.\n")
	default:
		subject = "Subscription update"
		b.WriteString("There is an update to your subscription.\n")
	}
	fmt.Fprintf(&b, "\nReference: %s\n", n.EventID)
	return subject, b.String()
}

func planName(id string) string {
	if id == "" {
		return "current"
	}
	return id
}

func day(t time.Time) string {
	return t.UTC().Format("2 January 2006")
}
