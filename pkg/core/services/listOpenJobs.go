package services

import (
	"context"
	"fmt"

	"github.com/jakechorley/snow-dispatch/pkg/core/dispatch"
	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// OpenJobsQuery narrows the open jobs listing
type OpenJobsQuery struct {
	ServiceTypes []model.ServiceType
	// Lat, Lon and RadiusMiles filter by straight-line distance when all are set.
	// Jobs without coordinates are kept.
	Lat         *float64
	Lon         *float64
	RadiusMiles float64
	Limit       int
}

// ListOpenJobs returns pending jobs, newest first
func ListOpenJobs(ctx context.Context, store interface {
	ListJobs(ctx context.Context, filter db.JobFilter) ([]db.Job, error)
}, query OpenJobsQuery) ([]db.Job, error) {
	filter := db.JobFilter{
		Statuses:     []model.JobStatus{model.StatusPending},
		ServiceTypes: query.ServiceTypes,
	}
	byDistance := query.Lat != nil && query.Lon != nil && query.RadiusMiles > 0
	if !byDistance {
		filter.Limit = query.Limit
	}

	jobs, err := store.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list open jobs: %w", err)
	}
	if !byDistance {
		return jobs, nil
	}

	result := make([]db.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.HasCoordinates() && dispatch.HaversineMiles(*query.Lat, *query.Lon, *job.Lat, *job.Lon) > query.RadiusMiles {
			continue
		}
		result = append(result, job)
		if query.Limit > 0 && len(result) >= query.Limit {
			break
		}
	}
	return result, nil
}
