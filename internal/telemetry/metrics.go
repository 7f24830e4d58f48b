package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics holds metric instruments for connection-level security
// telemetry. Initialize once at startup and reuse for the process lifetime.
// It satisfies the security layer's ConnectionObserver contract.
type SecurityMetrics struct {
	SessionsEstablished metric.Int64Counter     // Sessions authenticated successfully
	SessionsRejected    metric.Int64Counter     // Sessions rejected at authentication
	HandshakeDuration   metric.Float64Histogram // Successful handshake latency
}

// NewSecurityMetrics creates the security metric instruments.
func NewSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter("gridsec/security")

	established, err := meter.Int64Counter(
		"security.session.established.count",
		metric.WithDescription("Total number of established security sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"security.session.rejected.count",
		metric.WithDescription("Total number of rejected security sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	handshake, err := meter.Float64Histogram(
		"security.handshake.duration",
		metric.WithDescription("Security handshake duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	return &SecurityMetrics{
		SessionsEstablished: established,
		SessionsRejected:    rejected,
		HandshakeDuration:   handshake,
	}, nil
}

// SessionEstablished increments the established-session counter.
func (m *SecurityMetrics) SessionEstablished(ctx context.Context) {
	m.SessionsEstablished.Add(ctx, 1)
}

// SessionRejected increments the rejected-session counter.
func (m *SecurityMetrics) SessionRejected(ctx context.Context) {
	m.SessionsRejected.Add(ctx, 1)
}

// HandshakeCompleted records the duration of a completed handshake.
func (m *SecurityMetrics) HandshakeCompleted(ctx context.Context, d time.Duration) {
	m.HandshakeDuration.Record(ctx, float64(d.Milliseconds()))
}
