package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/surge"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// Forecaster returns the daily snowfall forecast for a point
type Forecaster interface {
	GetDailySnowfall(ctx context.Context, lat, lon float64, days int) ([]model.DailySnowfall, error)
}

// Region is the service area the forecast is checked for
type Region struct {
	Lat          float64
	Lon          float64
	Location     *time.Location
	ForecastDays int
}

// SurgeCheckResult summarises one surge check cycle
type SurgeCheckResult struct {
	Forecast    []model.DailySnowfall
	Created     []db.StormEvent
	Existing    []string // days that already had an event
	Notified    []string // storm event ids broadcast this cycle
	Deactivated int

	// SkipReason is set when the cycle was skipped. It wraps ErrForecastUnavailable.
	SkipReason error
}

// CheckForecastAndUpdateSurge runs one surge check cycle: expire old storm events,
// create events for qualifying forecast days and broadcast any event not yet
// announced. A failed forecast skips the cycle without returning an error, and an
// event whose broadcast fails stays eligible for the next cycle. Concurrent cycles
// create at most one event per day.
func CheckForecastAndUpdateSurge(ctx context.Context, store db.StormStore, forecaster Forecaster, notifier StormNotifier, logger *zap.Logger, policy surge.Policy, region Region, now time.Time) (*SurgeCheckResult, error) {
	now = nowOr(now)
	loc := region.Location
	if loc == nil {
		loc = time.UTC
	}
	days := region.ForecastDays
	if days <= 0 {
		days = 3
	}

	result := &SurgeCheckResult{}

	deactivated, err := store.DeactivateExpiredStormEvents(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate expired storm events: %w", err)
	}
	result.Deactivated = deactivated
	if deactivated > 0 {
		logger.Info("Deactivated expired storm events", zap.Int("count", deactivated))
	}

	forecast, err := forecaster.GetDailySnowfall(ctx, region.Lat, region.Lon, days)
	if err != nil {
		result.SkipReason = fmt.Errorf("%w: %v", ErrForecastUnavailable, err)
		logger.Warn("Forecast unavailable, skipping surge check", zap.Error(err))
		return result, nil
	}
	result.Forecast = forecast

	for _, day := range forecast {
		if !policy.Qualifies(day.Inches) {
			continue
		}

		start, err := time.ParseInLocation("2006-01-02", day.Date, loc)
		if err != nil {
			logger.Warn("Skipping forecast day with bad date", zap.String("date", day.Date), zap.Error(err))
			continue
		}

		event := &db.StormEvent{
			ID:              uuid.New().String(),
			Day:             day.Date,
			ForecastInches:  day.Inches,
			SurgeMultiplier: policy.Multiplier(day.Inches),
			StartTime:       start.UTC(),
			EndTime:         start.AddDate(0, 0, 1).UTC(),
			IsActive:        true,
			CreatedAt:       now,
		}

		stored, created, err := store.InsertStormEventIfAbsent(ctx, event)
		if err != nil {
			return nil, fmt.Errorf("failed to insert storm event for %s: %w", day.Date, err)
		}
		if !created {
			logger.Debug("Storm event already exists",
				zap.String("day", day.Date),
				zap.Error(ErrStormEventConflict))
			result.Existing = append(result.Existing, day.Date)
			continue
		}

		logger.Info("Storm event created",
			zap.String("storm_event_id", stored.ID),
			zap.String("day", stored.Day),
			zap.Float64("forecast_inches", stored.ForecastInches),
			zap.Float64("surge_multiplier", stored.SurgeMultiplier))
		result.Created = append(result.Created, *stored)
	}

	pending, err := store.ListUnnotifiedStormEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unnotified storm events: %w", err)
	}

	for i := range pending {
		event := &pending[i]
		if _, err := notifier.NotifyStorm(ctx, event); err != nil {
			logger.Warn("Storm broadcast failed, will retry next cycle",
				zap.String("storm_event_id", event.ID),
				zap.Error(err))
			continue
		}

		marked, err := store.MarkStormEventNotified(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to mark storm event notified: %w", err)
		}
		if marked {
			result.Notified = append(result.Notified, event.ID)
		}
	}

	return result, nil
}

// IsForecastSkipped reports whether the cycle was skipped for lack of a forecast
func (r *SurgeCheckResult) IsForecastSkipped() bool {
	return r.SkipReason != nil && errors.Is(r.SkipReason, ErrForecastUnavailable)
}
