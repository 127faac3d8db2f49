// Package dashboard serves the case book summary shown on the collections
// dashboard.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/collector/internal/cache"
	"github.com/opensource-finance/collector/internal/domain"
)

// metricsKey is the cache key of the current summary.
const metricsKey = "metrics:dashboard"

// DefaultTTL is how long a computed summary is served from cache.
const DefaultTTL = 30 * time.Second

// MetricsReader is the slice of the store the dashboard reads.
type MetricsReader interface {
	DashboardMetrics(ctx context.Context, dayStart, dayEnd time.Time) (*domain.DashboardMetrics, error)
}

// Service computes dashboard metrics, caching the result for a short TTL.
type Service struct {
	store MetricsReader
	cache domain.Cache
	ttl   time.Duration
	now   func() time.Time
	subs  []domain.Subscription
}

// NewService creates a dashboard service. A nil cache disables caching.
func NewService(store MetricsReader, c domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, cache: c, ttl: ttl, now: time.Now}
}

// Metrics returns open case count, cases resolved today (UTC) and the
// average DPD of open cases.
func (s *Service) Metrics(ctx context.Context) (*domain.DashboardMetrics, error) {
	if s.cache != nil {
		var cached domain.DashboardMetrics
		ok, err := cache.GetJSON(ctx, s.cache, metricsKey, &cached)
		if err != nil {
			slog.Warn("dashboard cache read failed", "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	m, err := s.store.DashboardMetrics(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("dashboard metrics: %w", err)
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, metricsKey, m, s.ttl); err != nil {
			slog.Warn("dashboard cache write failed", "error", err)
		}
	}
	return m, nil
}

// Invalidate drops the cached summary.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, metricsKey)
}

// InvalidateOn drops the cached summary whenever a case lifecycle event or a
// reconciliation report is published on bus.
func (s *Service) InvalidateOn(ctx context.Context, bus domain.EventBus) error {
	topics := []string{
		domain.TopicCaseCreated,
		domain.TopicCaseAssigned,
		domain.TopicCaseResolved,
		domain.TopicReconcileCompleted,
	}
	for _, topic := range topics {
		sub, err := bus.Subscribe(ctx, topic, func(ctx context.Context, _ *domain.Message) error {
			return s.Invalidate(ctx)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Close releases event subscriptions.
func (s *Service) Close() error {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	return nil
}
