package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chudeemeke/stealth-learning-auth-core/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	tokenIssueCounter    metric.Int64Counter
	tokenVerifyCounter   metric.Int64Counter
	tokenRefreshCounter  metric.Int64Counter
	sessionRevokeCounter metric.Int64Counter
	keyOperationCounter  metric.Int64Counter
	storeOperationCounter metric.Int64Counter
	apiKeyCounter        metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("stealth-learning-auth-core")
	issueCounter, err := meter.Int64Counter("token.issue.attempts")
	if err != nil {
		return nil, err
	}
	verifyCounter, err := meter.Int64Counter("token.verify.attempts")
	if err != nil {
		return nil, err
	}
	refreshCounter, err := meter.Int64Counter("token.refresh.attempts")
	if err != nil {
		return nil, err
	}
	revokeCounter, err := meter.Int64Counter("session.revocations")
	if err != nil {
		return nil, err
	}
	keyOpCounter, err := meter.Int64Counter("key.operations")
	if err != nil {
		return nil, err
	}
	storeOpCounter, err := meter.Int64Counter("store.operations")
	if err != nil {
		return nil, err
	}
	apiKeyCounter, err := meter.Int64Counter("apikey.validations")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		tokenIssueCounter:     issueCounter,
		tokenVerifyCounter:    verifyCounter,
		tokenRefreshCounter:   refreshCounter,
		sessionRevokeCounter:  revokeCounter,
		keyOperationCounter:   keyOpCounter,
		storeOperationCounter: storeOpCounter,
		apiKeyCounter:         apiKeyCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordTokenIssue(status string, userType string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenIssueCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("user_type", userType),
		),
	)
}

// RecordTokenVerify counts a verification outcome. reason carries the internal
// failure class (expired, malformed, blacklisted, session_dead, theft) that is
// never surfaced to callers.
func RecordTokenVerify(status, reason string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenVerifyCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("reason", reason),
		),
	)
}

func RecordTokenRefresh(status string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenRefreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordSessionRevocation(reason string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionRevokeCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func RecordKeyOperation(ctx context.Context, keyType, operation, status string) {
	m := current()
	if m == nil {
		return
	}
	m.keyOperationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("key_type", keyType),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

func RecordStoreOperation(ctx context.Context, store, operation, status string) {
	m := current()
	if m == nil {
		return
	}
	m.storeOperationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("store", store),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

func RecordAPIKeyValidation(status string) {
	m := current()
	if m == nil {
		return
	}
	m.apiKeyCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}
