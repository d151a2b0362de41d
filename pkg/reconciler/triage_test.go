package reconciler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clubbilling/pkg/email"
	"github.com/dmitrymomot/clubbilling/pkg/reconciler"
)

type outbox struct {
	sent []email.Message
}

func (o *outbox) Send(_ context.Context, msg email.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	o.sent = append(o.sent, msg)
	return nil
}

func TestEmailTriage(t *testing.T) {
	t.Parallel()

	box := &outbox{}
	n := reconciler.NewEmailTriage(box, "ops@example.com")

	err := n.Notify(context.Background(), reconciler.Record{
		EventID:    "evt_42",
		Type:       reconciler.TypeInvoicePaymentFailed,
		RetryCount: 2,
		ReceivedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}, errors.Join(reconciler.ErrOwnerUnresolvable, errors.New("customer cus_x: owner not found")))
	require.NoError(t, err)

	require.Len(t, box.sent, 1)
	msg := box.sent[0]
	assert.Equal(t, "ops@example.com", msg.To)
	assert.Equal(t, "Billing event needs attention: invoice.payment_failed", msg.Subject)
	assert.Contains(t, msg.TextBody, "evt_42")
	assert.Contains(t, msg.TextBody, "cus_x")
	assert.Contains(t, msg.TextBody, "Retries: 2")
	assert.Equal(t, "billing-triage", msg.Tag)
}
