package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcomes recorded on the counters.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeContinue  = "continue"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeChallenge = "challenge"
)

// Metrics holds the instruments shared by the client and the middleware.
// A nil *Metrics records nothing.
type Metrics struct {
	Rounds       metric.Int64Histogram // authenticated requests per client negotiation
	Negotiations metric.Int64Counter   // client negotiations by outcome
	AuthResults  metric.Int64Counter   // middleware results by outcome
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("go-negotiate")

	rounds, err := meter.Int64Histogram(
		"negotiate.rounds",
		metric.WithDescription("Authenticated requests issued per negotiation"),
		metric.WithUnit("{round}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 6, 10),
	)
	if err != nil {
		return nil, err
	}

	negotiations, err := meter.Int64Counter(
		"negotiate.count",
		metric.WithDescription("Client negotiations by outcome"),
		metric.WithUnit("{negotiation}"),
	)
	if err != nil {
		return nil, err
	}

	results, err := meter.Int64Counter(
		"sso.auth.result",
		metric.WithDescription("SSO middleware authentication results"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Rounds:       rounds,
		Negotiations: negotiations,
		AuthResults:  results,
	}, nil
}

// RecordNegotiation records a finished client negotiation.
func (m *Metrics) RecordNegotiation(ctx context.Context, outcome string, rounds int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Negotiations.Add(ctx, 1, attrs)
	m.Rounds.Record(ctx, int64(rounds), attrs)
}

// RecordAuthResult records one middleware decision.
func (m *Metrics) RecordAuthResult(ctx context.Context, outcome string, cached bool) {
	if m == nil {
		return
	}
	m.AuthResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("cached", cached),
	))
}
