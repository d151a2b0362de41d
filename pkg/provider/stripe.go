package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/dmitrymomot/clubbilling/pkg/ledger"
	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

// Stripe implements Provider on stripe-go. A client is built for every call
// from the call's BillingContext; the package-level stripe.Key is never set.
type Stripe struct {
	cfg      StripeConfig
	backends *stripe.Backends
	circuit  *Circuit
	logger   *slog.Logger
	retry    []RetryOption
}

type StripeOption func(*Stripe)

func WithStripeLogger(l *slog.Logger) StripeOption {
	return func(s *Stripe) { s.logger = logger.OrDiscard(l) }
}

// WithCircuit replaces the circuit built from the config.
func WithCircuit(c *Circuit) StripeOption {
	return func(s *Stripe) {
		if c != nil {
			s.circuit = c
		}
	}
}

// WithRetryOptions adds options to every retried call.
func WithRetryOptions(opts ...RetryOption) StripeOption {
	return func(s *Stripe) { s.retry = append(s.retry, opts...) }
}

func NewStripe(cfg StripeConfig, opts ...StripeOption) *Stripe {
	s := &Stripe{
		cfg:     cfg,
		circuit: NewCircuit(cfg.CircuitThreshold, 0, cfg.CircuitRecovery),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	httpClient := &http.Client{
		Timeout: cfg.APITimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout: cfg.ConnectTimeout,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	bcfg := &stripe.BackendConfig{
		HTTPClient: httpClient,
		// Retries are ours so they can honor classification and the circuit.
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     leveledLogger{s.logger},
	}
	if cfg.APIURL != "" {
		bcfg.URL = stripe.String(cfg.APIURL)
	}
	s.backends = stripe.NewBackendsWithConfig(bcfg)
	s.retry = append([]RetryOption{RetryMaxRetries(cfg.MaxRetries)}, s.retry...)
	return s
}

// Circuit exposes the breaker guarding the provider.
func (s *Stripe) Circuit() *Circuit { return s.circuit }

func (s *Stripe) client(bc BillingContext) *stripe.Client {
	return stripe.NewClient(bc.APIKey, stripe.WithBackends(s.backends))
}

// call runs fn with retry behind the circuit. Mutating calls without an
// idempotency key get a generated one so retries never double-apply.
func (s *Stripe) call(ctx context.Context, op string, bc BillingContext, mutating bool, fn func(ctx context.Context, sc *stripe.Client, p *stripe.Params) error) error {
	if bc.APIKey == "" {
		return &Error{Op: op, Kind: KindAuth, Err: ErrNotConfigured}
	}
	if mutating && bc.IdempotencyKey == "" {
		bc.IdempotencyKey = uuid.NewString()
	}
	sc := s.client(bc)

	err := WithRetry(ctx, op, func(ctx context.Context) error {
		if !s.circuit.Allow() {
			return &Error{Op: op, Kind: KindCircuitOpen, Err: ErrCircuitOpen}
		}
		var p stripe.Params
		if bc.ConnectAccountID != "" {
			p.SetStripeAccount(bc.ConnectAccountID)
		}
		if bc.IdempotencyKey != "" {
			p.SetIdempotencyKey(bc.IdempotencyKey)
		}
		err := classify(op, fn(ctx, sc, &p))
		s.circuit.Record(err)
		return err
	}, append(s.retry, RetryNotify(func(err error, wait time.Duration) {
		s.logger.WarnContext(ctx, "retrying billing provider call",
			logger.Operation(op), logger.Error(err), slog.Duration("wait", wait))
	}))...)
	if err != nil {
		s.logger.ErrorContext(ctx, "billing provider call failed",
			logger.Operation(op), logger.Error(err))
	}
	return err
}

func (s *Stripe) CreateCustomer(ctx context.Context, bc BillingContext, in CustomerParams) (string, error) {
	var id string
	err := s.call(ctx, "create_customer", bc, true, func(ctx context.Context, sc *stripe.Client, p *stripe.Params) error {
		params := &stripe.CustomerCreateParams{
			Params:   *p,
			Email:    stripe.String(in.Email),
			Metadata: in.Metadata,
		}
		if in.Name != "" {
			params.Name = stripe.String(in.Name)
		}
		c, err := sc.V1Customers.Create(ctx, params)
		if err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	return id, err
}

func (s *Stripe) CreateSubscription(ctx context.Context, bc BillingContext, in SubscriptionParams) (SubscriptionInfo, error) {
	if in.PriceID == "" {
		return SubscriptionInfo{}, ErrNoPrice
	}
	var info SubscriptionInfo
	err := s.call(ctx, "create_subscription", bc, true, func(ctx context.Context, sc *stripe.Client, p *stripe.Params) error {
		params := &stripe.SubscriptionCreateParams{
			Params:   *p,
			Customer: stripe.String(in.CustomerID),
			Items: []*stripe.SubscriptionCreateItemParams{
				{Price: stripe.String(in.PriceID)},
			},
			PaymentBehavior: stripe.String("default_incomplete"),
			Metadata:        in.Metadata,
		}
		if in.TrialEnd != nil {
			params.TrialEnd = stripe.Int64(in.TrialEnd.Unix())
		}
		if in.Split != nil {
			params.TransferData = &stripe.SubscriptionCreateTransferDataParams{
				Destination: stripe.String(in.Split.Destination),
			}
			params.ApplicationFeePercent = stripe.Float64(in.Split.ApplicationFeePercent.InexactFloat64())
		}
		sub, err := sc.V1Subscriptions.Create(ctx, params)
		if err != nil {
			return err
		}
		info = subscriptionInfo(sub)
		return nil
	})
	return info, err
}

func (s *Stripe) UpdateSubscription(ctx context.Context, bc BillingContext, id string, u SubscriptionUpdate) (SubscriptionInfo, error) {
	var info SubscriptionInfo
	err := s.call(ctx, "update_subscription", bc, true, func(ctx context.Context, sc *stripe.Client, p *stripe.Params) error {
		params := &stripe.SubscriptionUpdateParams{Params: *p}
		if u.CancelAtPeriodEnd != nil {
			params.CancelAtPeriodEnd = stripe.Bool(*u.CancelAtPeriodEnd)
		}
		if u.ApplicationFeePercent != nil {
			params.ApplicationFeePercent = stripe.Float64(u.ApplicationFeePercent.InexactFloat64())
		}
		if u.PriceID != "" {
			// Swapping replaces the single item in place.
			cur, err := sc.V1Subscriptions.Retrieve(ctx, id, &stripe.SubscriptionRetrieveParams{Params: *p})
			if err != nil {
				return err
			}
			item := &stripe.SubscriptionUpdateItemParams{Price: stripe.String(u.PriceID)}
			if cur.Items != nil && len(cur.Items.Data) > 0 {
				item.ID = stripe.String(cur.Items.Data[0].ID)
			}
			params.Items = []*stripe.SubscriptionUpdateItemParams{item}
			if u.Proration.Valid() {
				params.ProrationBehavior = stripe.String(string(u.Proration))
			}
		}
		sub, err := sc.V1Subscriptions.Update(ctx, id, params)
		if err != nil {
			return err
		}
		info = subscriptionInfo(sub)
		return nil
	})
	return info, err
}

func (s *Stripe) CancelSubscription(ctx context.Context, bc BillingContext, id string) error {
	return s.call(ctx, "cancel_subscription", bc, true, func(ctx context.Context, sc *stripe.Client, p *stripe.Params) error {
		_, err := sc.V1Subscriptions.Cancel(ctx, id, &stripe.SubscriptionCancelParams{Params: *p})
		return err
	})
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, bc BillingContext, in CheckoutParams) (CheckoutSession, error) {
	if in.PriceID == "" {
		return CheckoutSession{}, ErrNoPrice
	}
	if in.SuccessURL == "" {
		in.SuccessURL = s.cfg.CheckoutSuccessURL
	}
	if in.CancelURL == "" {
		in.CancelURL = s.cfg.CheckoutCancelURL
	}

	var out CheckoutSession
	err := s.call(ctx, "create_checkout_session", bc, true, func(ctx context.Context, sc *stripe.Client, p *stripe.Params) error {
		sub := &stripe.CheckoutSessionCreateSubscriptionDataParams{Metadata: in.Metadata}
		if in.TrialDays > 0 {
			sub.TrialPeriodDays = stripe.Int64(int64(in.TrialDays))
		}
		if in.Split != nil {
			sub.TransferData = &stripe.CheckoutSessionCreateSubscriptionDataTransferDataParams{
				Destination: stripe.String(in.Split.Destination),
			}
			sub.ApplicationFeePercent = stripe.Float64(in.Split.ApplicationFeePercent.InexactFloat64())
		}
		params := &stripe.CheckoutSessionCreateParams{
			Params:     *p,
			Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			SuccessURL: stripe.String(in.SuccessURL),
			CancelURL:  stripe.String(in.CancelURL),
			LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
				{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
			},
			SubscriptionData: sub,
			Metadata:         in.Metadata,
		}
		switch {
		case in.CustomerID != "":
			params.Customer = stripe.String(in.CustomerID)
		case in.Email != "":
			params.CustomerEmail = stripe.String(in.Email)
		}
		sess, err := sc.V1CheckoutSessions.Create(ctx, params)
		if err != nil {
			return err
		}
		out = CheckoutSession{ID: sess.ID, URL: sess.URL}
		return nil
	})
	return out, err
}

func (s *Stripe) RetrievePrice(ctx context.Context, bc BillingContext, id string) (plan.PriceInfo, error) {
	var info plan.PriceInfo
	err := s.call(ctx, "retrieve_price", bc, false, func(ctx context.Context, sc *stripe.Client, p *stripe.Params) error {
		price, err := sc.V1Prices.Retrieve(ctx, id, &stripe.PriceRetrieveParams{Params: *p})
		if err != nil {
			return err
		}
		info = priceInfo(price)
		return nil
	})
	return info, err
}

func (s *Stripe) RetrieveAccountStatus(ctx context.Context, bc BillingContext, accountID string) (AccountStatus, error) {
	var st AccountStatus
	// The account is addressed by id on the platform key, not through the
	// Stripe-Account header.
	bc.ConnectAccountID = ""
	err := s.call(ctx, "retrieve_account", bc, false, func(ctx context.Context, sc *stripe.Client, p *stripe.Params) error {
		acct, err := sc.V1Accounts.GetByID(ctx, accountID, &stripe.AccountRetrieveParams{Params: *p})
		if err != nil {
			return err
		}
		st = AccountStatus{
			ID:               acct.ID,
			ChargesEnabled:   acct.ChargesEnabled,
			PayoutsEnabled:   acct.PayoutsEnabled,
			DetailsSubmitted: acct.DetailsSubmitted,
		}
		return nil
	})
	return st, err
}

func subscriptionInfo(sub *stripe.Subscription) SubscriptionInfo {
	info := SubscriptionInfo{
		ID:                sub.ID,
		Status:            mapStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          unixTime(sub.TrialEnd),
	}
	if sub.Customer != nil {
		info.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		info.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			info.PriceID = item.Price.ID
		}
	}
	return info
}

func priceInfo(p *stripe.Price) plan.PriceInfo {
	info := plan.PriceInfo{
		ID:       p.ID,
		Amount:   p.UnitAmount,
		Currency: strings.ToUpper(string(p.Currency)),
		Active:   p.Active,
	}
	if p.Product != nil {
		info.ProductID = p.Product.ID
	}
	if p.Recurring != nil {
		switch p.Recurring.Interval {
		case stripe.PriceRecurringIntervalMonth:
			info.Interval = plan.IntervalMonthly
		case stripe.PriceRecurringIntervalYear:
			info.Interval = plan.IntervalYearly
		}
	}
	return info
}

// mapStatus folds the provider's statuses into the ledger's. Unknown
// statuses map to StatusNone.
func mapStatus(s stripe.SubscriptionStatus) ledger.Status {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return ledger.StatusTrialing
	case stripe.SubscriptionStatusActive:
		return ledger.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return ledger.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return ledger.StatusCanceled
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusPaused:
		return ledger.StatusIncomplete
	default:
		return ledger.StatusNone
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// leveledLogger routes stripe-go's own logging into slog.
type leveledLogger struct{ l *slog.Logger }

func (l leveledLogger) Debugf(format string, v ...any) { l.l.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Infof(format string, v ...any)  { l.l.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Warnf(format string, v ...any)  { l.l.Warn(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Errorf(format string, v ...any) { l.l.Error(fmt.Sprintf(format, v...)) }
