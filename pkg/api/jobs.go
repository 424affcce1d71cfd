package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/services"
)

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	// CreateJob validates the input once the customer id is filled in
	var input services.CreateJobInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, s.logger, err)
		return
	}

	// Customers always create jobs for themselves
	if a := actor(r); a.Role == model.RoleCustomer {
		input.CustomerID = a.ID
	}
	input.Now = s.now()

	job, err := services.CreateJob(r.Context(), s.store, s.notifier, s.logger, input)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (s *Server) listOpenJobs(w http.ResponseWriter, r *http.Request) {
	query, err := parseOpenJobsQuery(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if query.Lat != nil && query.RadiusMiles == 0 {
		query.RadiusMiles = s.cfg.DispatchRadius
	}

	jobs, err := services.ListOpenJobs(r.Context(), s.store, query)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponses(jobs))
}

// parseOpenJobsQuery reads service_type (repeatable or comma separated), lat, lon, radius and limit
func parseOpenJobsQuery(r *http.Request) (services.OpenJobsQuery, error) {
	q := r.URL.Query()
	var query services.OpenJobsQuery

	for _, raw := range q["service_type"] {
		for _, v := range strings.Split(raw, ",") {
			st := model.ServiceType(strings.TrimSpace(v))
			if !st.IsValid() {
				return query, fmt.Errorf("%w: unknown service_type %q", services.ErrInvalidInput, v)
			}
			query.ServiceTypes = append(query.ServiceTypes, st)
		}
	}

	var err error
	if query.Lat, err = optionalFloat(q.Get("lat")); err != nil {
		return query, err
	}
	if query.Lon, err = optionalFloat(q.Get("lon")); err != nil {
		return query, err
	}
	if (query.Lat == nil) != (query.Lon == nil) {
		return query, fmt.Errorf("%w: lat and lon must be given together", services.ErrInvalidInput)
	}
	if radius, err := optionalFloat(q.Get("radius")); err != nil {
		return query, err
	} else if radius != nil {
		query.RadiusMiles = *radius
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return query, fmt.Errorf("%w: invalid limit %q", services.ErrInvalidInput, v)
		}
		query.Limit = limit
	}
	return query, nil
}

func optionalFloat(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", services.ErrInvalidInput, v)
	}
	return &f, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, storeError(err, services.ErrJobNotFound))
		return
	}
	if a := actor(r); a.Role == model.RoleCustomer && job.CustomerID != a.ID {
		writeError(w, s.logger, services.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) claimJob(w http.ResponseWriter, r *http.Request) {
	res, err := services.ClaimJob(r.Context(), s.store, s.notifier, s.logger, chi.URLParam(r, "id"), actor(r).ID, s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimResponse(res))
}

type submitBidRequest struct {
	Amount *float64 `json:"amount" validate:"required"`
}

type submitBidResponse struct {
	JobID    string  `json:"job_id"`
	Position int     `json:"position"`
	Amount   float64 `json:"amount"`
}

func (s *Server) submitBid(w http.ResponseWriter, r *http.Request) {
	var req submitBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	res, err := services.SubmitBid(r.Context(), s.store, s.logger, chi.URLParam(r, "id"), actor(r).ID, *req.Amount, s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitBidResponse{JobID: res.JobID, Position: res.Position, Amount: res.Bid.Amount})
}

type claimFromBidRequest struct {
	BidIndex *int `json:"bid_index" validate:"required,gte=0"`
}

func (s *Server) claimFromBid(w http.ResponseWriter, r *http.Request) {
	var req claimFromBidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	res, err := services.ClaimJobFromBid(r.Context(), s.store, s.notifier, s.logger, chi.URLParam(r, "id"), *req.BidIndex, actor(r), s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimResponse(res))
}

func (s *Server) claimBackup(w http.ResponseWriter, r *http.Request) {
	res, err := services.ClaimBackupSlot(r.Context(), s.store, s.notifier, s.logger, chi.URLParam(r, "id"), actor(r).ID, s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimResponse(res))
}

type promoteBackupRequest struct {
	AdminConfirmed bool `json:"admin_confirmed"`
}

func (s *Server) promoteBackup(w http.ResponseWriter, r *http.Request) {
	var req promoteBackupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	res, err := services.PromoteBackup(r.Context(), s.store, s.notifier, s.logger, s.cfg.Promotion, services.PromoteBackupRequest{
		JobID:          chi.URLParam(r, "id"),
		Actor:          actor(r),
		AdminConfirmed: req.AdminConfirmed,
		Now:            s.now(),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionResponse(res))
}

type advanceJobRequest struct {
	Status model.JobStatus `json:"status" validate:"required"`
}

func (s *Server) advanceJob(w http.ResponseWriter, r *http.Request) {
	var req advanceJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	job, err := services.AdvanceJob(r.Context(), s.store, s.notifier, s.logger, chi.URLParam(r, "id"), actor(r), req.Status, s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) checkStorm(w http.ResponseWriter, r *http.Request) {
	res, err := services.CheckForecastAndUpdateSurge(r.Context(), s.store, s.forecaster, s.notifier, s.logger, s.cfg.SurgePolicy, s.cfg.Region, s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toStormCheckResponse(res))
}

type sweepResponse struct {
	Checked  int                 `json:"checked"`
	Promoted []promotionResponse `json:"promoted"`
	Released []string            `json:"released_backups"`
}

func (s *Server) promoteOverdueBackups(w http.ResponseWriter, r *http.Request) {
	res, err := services.PromoteOverdueBackups(r.Context(), s.store, s.notifier, s.logger, s.cfg.Promotion, s.now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	resp := sweepResponse{Checked: res.Checked, Promoted: []promotionResponse{}, Released: []string{}}
	resp.Released = append(resp.Released, res.Released...)
	for i := range res.Promoted {
		resp.Promoted = append(resp.Promoted, toPromotionResponse(&res.Promoted[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
