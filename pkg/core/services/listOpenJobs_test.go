package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

func TestListOpenJobs(t *testing.T) {
	store := db.NewMemoryDB()
	at := func(lat, lon float64) func(*db.Job) {
		return func(j *db.Job) { j.Lat, j.Lon = &lat, &lon }
	}

	addJob(t, store, "near", at(41.89, -87.62))
	addJob(t, store, "far", at(42.30, -87.90))
	addJob(t, store, "no-coords", nil)
	addJob(t, store, "truck", func(j *db.Job) { j.ServiceType = model.ServiceTruck })
	addJob(t, store, "claimed", func(j *db.Job) {
		j.Status = model.StatusClaimed
		j.ClaimedBy = "w1"
	})

	tests := []struct {
		name  string
		query OpenJobsQuery
		want  []string
	}{
		{
			name:  "all pending newest first",
			query: OpenJobsQuery{},
			want:  []string{"truck", "no-coords", "far", "near"},
		},
		{
			name:  "service type",
			query: OpenJobsQuery{ServiceTypes: []model.ServiceType{model.ServiceTruck}},
			want:  []string{"truck"},
		},
		{
			name:  "limit",
			query: OpenJobsQuery{Limit: 2},
			want:  []string{"truck", "no-coords"},
		},
		{
			name:  "radius keeps jobs without coordinates",
			query: OpenJobsQuery{Lat: ptr(41.88), Lon: ptr(-87.63), RadiusMiles: 5},
			want:  []string{"truck", "no-coords", "near"},
		},
		{
			name:  "radius with limit",
			query: OpenJobsQuery{Lat: ptr(41.88), Lon: ptr(-87.63), RadiusMiles: 5, Limit: 1},
			want:  []string{"truck"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := ListOpenJobs(context.Background(), store, tt.query)
			require.NoError(t, err)

			var ids []string
			for _, j := range jobs {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
