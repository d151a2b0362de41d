package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/clubbilling/pkg/reconciler"
)

// ParseEvent verifies the Stripe-Signature header and converts the event
// into a reconciler.Event.
func (s *Stripe) ParseEvent(payload []byte, sigHeader string) (reconciler.Event, error) {
	if s.cfg.WebhookSecret == "" {
		return reconciler.Event{}, ErrNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return reconciler.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return reconciler.Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return convertEvent(ev)
}

// objectHeader holds the fields every relevant object carries.
type objectHeader struct {
	Customer json.RawMessage   `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

type checkoutObject struct {
	Subscription json.RawMessage `json:"subscription"`
}

// invoiceObject is the part of an invoice the reconciler needs. Newer API
// versions move the subscription under parent.subscription_details.
type invoiceObject struct {
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func convertEvent(ev stripe.Event) (reconciler.Event, error) {
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return reconciler.Event{}, fmt.Errorf("%w: event %s has no object", ErrInvalidPayload, ev.ID)
	}
	raw := ev.Data.Raw

	var head objectHeader
	if err := json.Unmarshal(raw, &head); err != nil {
		return reconciler.Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	out := reconciler.Event{
		ID:         ev.ID,
		Type:       string(ev.Type),
		CustomerID: refID(head.Customer),
		Metadata:   head.Metadata,
		Data:       raw,
		CreatedAt:  time.Unix(ev.Created, 0).UTC(),
	}

	switch out.Type {
	case reconciler.TypeSubscriptionCreated, reconciler.TypeSubscriptionUpdated,
		reconciler.TypeSubscriptionDeleted, reconciler.TypeSubscriptionTrialEnding:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return reconciler.Event{}, fmt.Errorf("%w: subscription: %v", ErrInvalidPayload, err)
		}
		info := subscriptionInfo(&sub)
		cancel := info.CancelAtPeriodEnd
		out.Subscription = &reconciler.SubscriptionState{
			ID:                info.ID,
			Status:            info.Status,
			PriceID:           info.PriceID,
			CurrentPeriodEnd:  info.CurrentPeriodEnd,
			CancelAtPeriodEnd: &cancel,
			TrialEnd:          info.TrialEnd,
		}

	case reconciler.TypeCheckoutCompleted:
		var cs checkoutObject
		if err := json.Unmarshal(raw, &cs); err != nil {
			return reconciler.Event{}, fmt.Errorf("%w: checkout session: %v", ErrInvalidPayload, err)
		}
		if id := refID(cs.Subscription); id != "" {
			out.Subscription = &reconciler.SubscriptionState{ID: id}
		}

	case reconciler.TypeInvoicePaid, reconciler.TypeInvoicePaymentSucceeded, reconciler.TypeInvoicePaymentFailed:
		var inv invoiceObject
		if err := json.Unmarshal(raw, &inv); err != nil {
			return reconciler.Event{}, fmt.Errorf("%w: invoice: %v", ErrInvalidPayload, err)
		}
		id := refID(inv.Subscription)
		if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
			d := inv.Parent.SubscriptionDetails
			if sid := refID(d.Subscription); sid != "" {
				id = sid
			}
			if len(out.Metadata) == 0 {
				out.Metadata = d.Metadata
			}
		}
		if id != "" {
			out.Subscription = &reconciler.SubscriptionState{ID: id}
		}
	}
	return out, nil
}

// refID reads an expandable reference, which is either an id string or an
// object with an id.
func refID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
