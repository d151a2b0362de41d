// Package intake is the HTTP surface of the billing service: the provider
// webhook endpoint, health probes and the metrics endpoint, served by a
// Server that shuts down gracefully when its context ends.
//
//	r := intake.NewRouter(intake.Routes{
//		Webhook: intake.WebhookHandler(stripe, rec, log, cfg.MaxBodyBytes),
//		Checks:  map[string]intake.Check{"postgres": pg.Healthcheck(pool)},
//		Metrics: registry,
//	})
//	err := intake.NewServer(cfg, intake.WithLogger(log)).Run(ctx, r)
//
// The webhook answers 200 for processed, queued and already-processed
// events, 400 for payloads that fail verification and 500 when processing
// failed, so the provider redelivers. Redeliveries are absorbed by the
// reconciler's idempotency.
package intake
