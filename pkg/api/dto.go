package api

import (
	"time"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/services"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

type bidResponse struct {
	Index       int       `json:"index"`
	Position    int       `json:"position"`
	WorkerID    string    `json:"worker_id"`
	Amount      float64   `json:"amount"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type jobResponse struct {
	ID               string            `json:"id"`
	CustomerID       string            `json:"customer_id"`
	CustomerName     string            `json:"customer_name"`
	Address          string            `json:"address"`
	Lat              *float64          `json:"lat,omitempty"`
	Lon              *float64          `json:"lon,omitempty"`
	ServiceType      model.ServiceType `json:"service_type"`
	MaxPrice         float64           `json:"max_price"`
	SurgeMultiplier  float64           `json:"surge_multiplier"`
	ChargeAmount     float64           `json:"charge_amount"`
	BidMode          bool              `json:"bid_mode"`
	BidDeadline      *time.Time        `json:"bid_deadline,omitempty"`
	Status           model.JobStatus   `json:"status"`
	ClaimedBy        string            `json:"claimed_by,omitempty"`
	BackupClaimedBy  string            `json:"backup_claimed_by,omitempty"`
	SelectedBidIndex *int              `json:"selected_bid_index,omitempty"`
	BackupBonus      float64           `json:"backup_bonus,omitempty"`
	Bids             []bidResponse     `json:"bids,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ClaimedAt        *time.Time        `json:"claimed_at,omitempty"`
	AcceptedAt       *time.Time        `json:"accepted_at,omitempty"`
	OnTheWayAt       *time.Time        `json:"on_the_way_at,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty"`
}

// toJobResponse leaves out customer contact details, which only the notifier uses
func toJobResponse(j *db.Job) jobResponse {
	resp := jobResponse{
		ID:               j.ID,
		CustomerID:       j.CustomerID,
		CustomerName:     j.CustomerName,
		Address:          j.Address,
		Lat:              j.Lat,
		Lon:              j.Lon,
		ServiceType:      j.ServiceType,
		MaxPrice:         j.MaxPrice,
		SurgeMultiplier:  j.SurgeMultiplier,
		ChargeAmount:     j.ChargeAmount(),
		BidMode:          j.BidMode,
		BidDeadline:      j.BidDeadline,
		Status:           j.Status,
		ClaimedBy:        j.ClaimedBy,
		BackupClaimedBy:  j.BackupClaimedBy,
		SelectedBidIndex: j.SelectedBidIndex,
		BackupBonus:      j.BackupBonus,
		CreatedAt:        j.CreatedAt,
		ClaimedAt:        j.ClaimedAt,
		AcceptedAt:       j.AcceptedAt,
		OnTheWayAt:       j.OnTheWayAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
		CancelledAt:      j.CancelledAt,
	}
	for i, b := range j.Bids {
		resp.Bids = append(resp.Bids, bidResponse{
			Index:       i,
			Position:    b.Seq,
			WorkerID:    b.WorkerID,
			Amount:      b.Amount,
			SubmittedAt: b.SubmittedAt,
		})
	}
	return resp
}

func toJobResponses(jobs []db.Job) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	return out
}

type claimResponse struct {
	Job      jobResponse        `json:"job"`
	WorkerID string             `json:"worker_id"`
	Mode     services.ClaimMode `json:"mode"`
}

func toClaimResponse(res *services.ClaimResult) claimResponse {
	return claimResponse{Job: toJobResponse(res.Job), WorkerID: res.WorkerID, Mode: res.Mode}
}

type promotionResponse struct {
	Job              jobResponse `json:"job"`
	PromotedWorkerID string      `json:"promoted_worker_id"`
	NoShowWorkerID   string      `json:"no_show_worker_id"`
	NoShowStrikes    int         `json:"no_show_strikes"`
}

func toPromotionResponse(res *services.PromotionResult) promotionResponse {
	return promotionResponse{
		Job:              toJobResponse(res.Job),
		PromotedWorkerID: res.PromotedWorkerID,
		NoShowWorkerID:   res.NoShowWorkerID,
		NoShowStrikes:    res.NoShowStrikes,
	}
}

type workerResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	HasTruck   bool       `json:"has_truck"`
	Rate       float64    `json:"rate"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func toWorkerResponse(w *db.Worker) workerResponse {
	return workerResponse{
		ID:         w.ID,
		Name:       w.Name,
		HasTruck:   w.HasTruck,
		Rate:       w.Rate,
		IsOnline:   w.IsOnline,
		LastSeenAt: w.LastSeenAt,
	}
}

type stormCheckResponse struct {
	Skipped     bool     `json:"skipped"`
	SkipReason  string   `json:"skip_reason,omitempty"`
	Created     []string `json:"created_days"`
	Existing    []string `json:"existing_days"`
	Notified    []string `json:"notified_event_ids"`
	Deactivated int      `json:"deactivated"`
}

func toStormCheckResponse(res *services.SurgeCheckResult) stormCheckResponse {
	resp := stormCheckResponse{
		Skipped:     res.IsForecastSkipped(),
		Created:     []string{},
		Existing:    append([]string{}, res.Existing...),
		Notified:    append([]string{}, res.Notified...),
		Deactivated: res.Deactivated,
	}
	if res.SkipReason != nil {
		resp.SkipReason = res.SkipReason.Error()
	}
	for _, e := range res.Created {
		resp.Created = append(resp.Created, e.Day)
	}
	return resp
}
