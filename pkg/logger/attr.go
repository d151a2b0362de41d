package logger

import (
	"fmt"
	"log/slog"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// OwnerID records the billable owner identifier under the key "owner_id".
// If id is nil, it returns an empty Attr.
func OwnerID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.String("owner_id", fmt.Sprint(id))
}

func OwnerKind(kind string) slog.Attr {
	return slog.String("owner_kind", kind)
}

// TenantID records the tenant identifier under the key "tenant_id".
// If id is nil, it returns an empty Attr.
func TenantID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.String("tenant_id", fmt.Sprint(id))
}

func PlanID(id string) slog.Attr {
	return slog.String("plan_id", id)
}

// EventID records the provider event identifier under the key "event_id".
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// Metric records a usage metric name under the key "metric".
func Metric(name string) slog.Attr {
	return slog.String("metric", name)
}

func Operation(name string) slog.Attr {
	return slog.String("operation", name)
}

// ExternalRef records a payment provider object id (customer, subscription,
// price) under the key "external_ref".
func ExternalRef(ref string) slog.Attr {
	if ref == "" {
		return slog.Attr{}
	}
	return slog.String("external_ref", ref)
}

func Status(s string) slog.Attr {
	return slog.String("status", s)
}

func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}
