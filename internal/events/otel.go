package events

import (
	"context"
	"encoding/json"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "company-claims/events"

// OTelPublisher mirrors events as OTel log records and counts them per type.
type OTelPublisher struct {
	logger  otellog.Logger
	counter metric.Int64Counter
}

// NewOTelPublisher returns a publisher using the given providers. Either may be nil.
func NewOTelPublisher(lp otellog.LoggerProvider, mp metric.MeterProvider) (*OTelPublisher, error) {
	p := &OTelPublisher{}
	if lp != nil {
		p.logger = lp.Logger(instrumentationName)
	}
	if mp != nil {
		c, err := mp.Meter(instrumentationName).Int64Counter("claims.events",
			metric.WithDescription("Claim lifecycle events by type"))
		if err != nil {
			return nil, err
		}
		p.counter = c
	}
	return p, nil
}

// Publish implements Publisher.
func (p *OTelPublisher) Publish(ctx context.Context, ev Event) error {
	if p.counter != nil {
		p.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", string(ev.Type))))
	}
	if p.logger == nil {
		return nil
	}
	rec := otellog.Record{}
	rec.SetTimestamp(ev.OccurredAt)
	if ev.Type.AdminNotification() {
		rec.SetSeverity(otellog.SeverityInfo2)
	} else {
		rec.SetSeverity(otellog.SeverityInfo)
	}
	if len(ev.Attributes) > 0 {
		if b, err := json.Marshal(ev.Attributes); err == nil {
			rec.SetBody(otellog.BytesValue(b))
		}
	}
	rec.AddAttributes(
		otellog.String("event_id", ev.ID),
		otellog.String("event_type", string(ev.Type)),
		otellog.String("claim_id", ev.ClaimID),
		otellog.String("company_id", ev.CompanyID),
		otellog.String("claimant_user_id", ev.ClaimantUserID),
		otellog.String("status", ev.Status),
	)
	p.logger.Emit(ctx, rec)
	return nil
}
