// Package logger builds the structured slog logger shared by every billing
// component.
//
// New returns a *slog.Logger configured by functional options. The handler is
// wrapped by a decorator that runs registered ContextExtractor callbacks on
// every record, so values carried in context (the billable owner, the
// provider event being processed) land in the log line without each call
// site passing them explicitly.
//
// Attribute helpers in attr.go keep key names consistent across packages:
//
//	log.InfoContext(ctx, "plan assigned",
//	    logger.OwnerID(club.ID),
//	    logger.PlanID(p.ID),
//	)
//
// Helpers that wrap optional values return an empty slog.Attr for nil input,
// which slog drops silently.
package logger
