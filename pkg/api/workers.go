package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/services"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// storeError translates a store miss into the service sentinel for the resource
func storeError(err, notFound error) error {
	if errors.Is(err, db.ErrNotFound) {
		return notFound
	}
	return err
}

func (s *Server) registerWorker(w http.ResponseWriter, r *http.Request) {
	var input services.RegisterWorkerInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, s.logger, err)
		return
	}

	a := actor(r)
	if a.Role == model.RoleWorker {
		if input.Phone != "" && input.Phone != a.ID {
			writeError(w, s.logger, fmt.Errorf("%w: workers may only register themselves", services.ErrForbidden))
			return
		}
		input.Phone = a.ID
	}

	worker, err := services.RegisterWorker(r.Context(), s.store, s.logger, input)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerResponse(worker))
}

type goOnlineRequest struct {
	Lat *float64 `json:"lat" validate:"omitempty,latitude"`
	Lon *float64 `json:"lon" validate:"omitempty,longitude"`
}

func (s *Server) goOnline(w http.ResponseWriter, r *http.Request) {
	var req goOnlineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := services.GoOnline(r.Context(), s.store, s.logger, actor(r).ID, req.Lat, req.Lon, s.now()); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) goOffline(w http.ResponseWriter, r *http.Request) {
	if err := services.GoOffline(r.Context(), s.store, s.logger, actor(r).ID, s.now()); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := services.Heartbeat(r.Context(), s.store, actor(r).ID, s.now()); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getReliability(w http.ResponseWriter, r *http.Request) {
	score, err := services.GetReliability(r.Context(), s.store, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) recordNoShow(w http.ResponseWriter, r *http.Request) {
	score, err := services.RecordNoShow(r.Context(), s.store, s.logger, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) clearStrikes(w http.ResponseWriter, r *http.Request) {
	score, err := services.ClearStrikes(r.Context(), s.store, s.logger, actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}
