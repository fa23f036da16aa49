package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"erasmusjourney/internal/aggregate"
	"erasmusjourney/internal/database"
	"erasmusjourney/internal/tasks"
)

// Refresher copies city statistics onto the curated destination rows.
type Refresher struct {
	db     *gorm.DB
	stats  *aggregate.Service
	cache  *aggregate.CostsCache
	logger *slog.Logger
}

// NewRefresher constructs a Refresher. cache may be nil.
func NewRefresher(db *gorm.DB, stats *aggregate.Service, cache *aggregate.CostsCache, logger *slog.Logger) *Refresher {
	return &Refresher{db: db, stats: stats, cache: cache, logger: logger}
}

// Refresh recomputes one city, or every destination when city is empty, and drops
// the matching cached cost summaries. It returns the number of destinations updated.
func (r *Refresher) Refresh(ctx context.Context, city, country string) (int, error) {
	city, country = strings.TrimSpace(city), strings.TrimSpace(country)

	query := r.db.WithContext(ctx)
	if city != "" {
		query = query.Where("LOWER(name) = ? AND LOWER(country) = ?", strings.ToLower(city), strings.ToLower(country))
	}
	var destinations []database.Destination
	if err := query.Find(&destinations).Error; err != nil {
		return 0, fmt.Errorf("load destinations: %w", err)
	}

	all, err := r.stats.CityStats(ctx, aggregate.DefaultFilter())
	if err != nil {
		return 0, fmt.Errorf("compute city stats: %w", err)
	}
	byKey := make(map[string]aggregate.CityStats, len(all))
	for _, s := range all {
		byKey[destinationKey(s.City, s.Country)] = s
	}

	now := time.Now().UTC()
	updated := 0
	for _, d := range destinations {
		// Cities that lost all their submissions are reset to zero.
		s := byKey[destinationKey(d.Name, d.Country)]
		if err := r.db.WithContext(ctx).Model(&d).Updates(map[string]any{
			"student_count":    s.StudentCount,
			"avg_rent":         s.AvgRent,
			"avg_monthly_cost": s.AvgMonthlyTotal,
			"refreshed_at":     now,
		}).Error; err != nil {
			return updated, fmt.Errorf("update destination %d: %w", d.ID, err)
		}
		updated++
	}

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, city, country); err != nil {
			r.logger.Warn("invalidate costs cache failed",
				slog.String("city", city),
				slog.String("country", country),
				slog.Any("error", err),
			)
		}
	}
	return updated, nil
}

// RefreshTaskHandler consumes destination:refresh tasks.
type RefreshTaskHandler struct {
	refresher *Refresher
	logger    *slog.Logger
}

// NewRefreshTaskHandler constructs a RefreshTaskHandler.
func NewRefreshTaskHandler(refresher *Refresher, logger *slog.Logger) *RefreshTaskHandler {
	return &RefreshTaskHandler{refresher: refresher, logger: logger}
}

// ProcessTask implements asynq.Handler.
func (h *RefreshTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseDestinationRefresh(t)
	if err != nil {
		h.logger.Error("unmarshal refresh payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("city", payload.City),
		slog.String("country", payload.Country),
	)

	updated, err := h.refresher.Refresh(ctx, payload.City, payload.Country)
	if err != nil {
		log.Error("refresh destinations failed", slog.Any("error", err))
		return err
	}
	log.Info("destinations refreshed", slog.Int("updated", updated))
	return nil
}

func destinationKey(city, country string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "|" + strings.ToLower(strings.TrimSpace(country))
}
