package shipping

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/usps-tracking/internal/obs"
)

// Service performs tracking lookups against a driver and records their outcome.
type Service struct {
	Driver Driver
	Logger zerolog.Logger
}

// Track looks up the identifier with the configured driver. Driver errors are returned unchanged.
func (s *Service) Track(ctx context.Context, identifier string) (TrackingDetails, error) {
	if s.Driver == nil {
		return TrackingDetails{}, errors.New("tracking driver not configured")
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return TrackingDetails{}, ErrIdentifierRequired
	}
	driver := s.Driver.Name()

	ctx, span := otel.Tracer("shipping.Service").Start(ctx, "TrackingService.Track")
	defer span.End()
	span.SetAttributes(attribute.String("tracking.driver", driver))

	start := time.Now()
	details, err := s.Driver.Find(ctx, identifier)
	outcome := Classify(err)
	span.SetAttributes(attribute.String("tracking.outcome", outcome))
	s.observe(driver, outcome, time.Since(start))

	if err != nil {
		span.RecordError(err)
		if outcome != "carrier" {
			span.SetStatus(codes.Error, outcome)
		}
		s.logFailure(ctx, driver, identifier, outcome, err)
		return TrackingDetails{}, err
	}
	span.SetAttributes(attribute.String("tracking.status", details.Status.String()))
	return details, nil
}

func (s *Service) observe(driver, outcome string, elapsed time.Duration) {
	if obs.TrackingLookupsTotal != nil {
		obs.TrackingLookupsTotal.WithLabelValues(driver, outcome).Inc()
	}
	if obs.TrackingLookupLatency != nil {
		obs.TrackingLookupLatency.WithLabelValues(driver).Observe(obs.DurationMillis(elapsed))
	}
}

func (s *Service) logFailure(ctx context.Context, driver, identifier, outcome string, err error) {
	logger := s.loggerFor(ctx)
	var evt *zerolog.Event
	switch outcome {
	case "shape", "auth":
		evt = logger.Error()
	case "transport":
		evt = logger.Warn()
	default:
		evt = logger.Info()
	}
	evt.Err(err).
		Str("driver", driver).
		Str("tracking_id", identifier).
		Str("outcome", outcome).
		Msg("tracking_lookup_failed")
}

func (s *Service) loggerFor(ctx context.Context) *zerolog.Logger {
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger != nil && ctxLogger.GetLevel() != zerolog.Disabled {
		return ctxLogger
	}
	return &s.Logger
}
