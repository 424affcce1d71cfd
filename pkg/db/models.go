package db

import (
	"time"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
)

// Job represents a snow-removal job record
type Job struct {
	ID            string
	CustomerID    string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string // nullable
	Address       string
	Lat           *float64
	Lon           *float64

	ServiceType     model.ServiceType
	MaxPrice        float64
	SurgeMultiplier float64
	BidMode         bool
	BidDeadline     *time.Time

	Status           model.JobStatus
	ClaimedBy        string // nullable
	BackupClaimedBy  string // nullable
	SelectedBidIndex *int
	BackupBonus      float64

	// Bids is ordered by Seq
	Bids []Bid

	CreatedAt   time.Time
	ClaimedAt   *time.Time
	AcceptedAt  *time.Time
	OnTheWayAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// HasCoordinates reports whether the job can be distance-filtered
func (j *Job) HasCoordinates() bool {
	return j.Lat != nil && j.Lon != nil
}

// SelectedBid returns the bid chosen by the customer, if any
func (j *Job) SelectedBid() (Bid, bool) {
	if j.SelectedBidIndex == nil {
		return Bid{}, false
	}
	i := *j.SelectedBidIndex
	if i < 0 || i >= len(j.Bids) {
		return Bid{}, false
	}
	return j.Bids[i], true
}

// ChargeAmount is what the payment collaborator should charge for the job:
// the selected bid when there is one, otherwise the max price, scaled by the surge multiplier
func (j *Job) ChargeAmount() float64 {
	base := j.MaxPrice
	if bid, ok := j.SelectedBid(); ok {
		base = bid.Amount
	}
	mult := j.SurgeMultiplier
	if mult < 1 {
		mult = 1
	}
	return base * mult
}

// Bid is an immutable offer recorded against a bid-mode job
type Bid struct {
	Seq         int
	WorkerID    string
	Amount      float64
	SubmittedAt time.Time
}

// Worker represents a plower record
type Worker struct {
	ID                 string // phone number
	Name               string
	Lat                *float64
	Lon                *float64
	Rate               float64
	HasTruck           bool
	IsOnline           bool
	LastSeenAt         *time.Time
	NoShowStrikes      int
	JobsClaimed        int
	JobsCompleted      int
	SMSNotifyThreshold float64
	PushSubscription   string // nullable
}

// HasCoordinates reports whether the worker's last location is known
func (w *Worker) HasCoordinates() bool {
	return w.Lat != nil && w.Lon != nil
}

// HasPush reports whether the worker can be reached by push notification
func (w *Worker) HasPush() bool {
	return w.PushSubscription != ""
}

// Presence is a worker's online/offline transition
type Presence struct {
	WorkerID         string
	IsOnline         bool
	LastTransitionAt time.Time
	Lat              *float64
	Lon              *float64
}

// StormEvent records that the forecast crossed the surge threshold for a calendar day
type StormEvent struct {
	ID              string
	Day             string // YYYY-MM-DD, unique
	ForecastInches  float64
	SurgeMultiplier float64
	StartTime       time.Time
	EndTime         time.Time
	IsActive        bool
	NotifiedWorkers bool
	CreatedAt       time.Time
}

// Covers reports whether t falls inside the event window
func (e *StormEvent) Covers(t time.Time) bool {
	return !t.Before(e.StartTime) && t.Before(e.EndTime)
}

// AuditEntry records a single job transition
type AuditEntry struct {
	ID        string
	JobID     string
	Action    string
	FromState model.JobStatus
	ToState   model.JobStatus
	Actor     string
	Detail    string
	At        time.Time
}

// Notification kinds
const (
	KindJobAlert       = "job_alert"
	KindStormAlert     = "storm_alert"
	KindCustomerUpdate = "customer_update"
)

// Notification outcomes
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// NotificationLog is one append-only record of a notification attempt
type NotificationLog struct {
	ID           string
	Kind         string
	Recipient    string
	Channel      model.Channel
	JobID        string // nullable
	StormEventID string // nullable
	Outcome      string
	Reason       string
	At           time.Time
}
