package model

import "fmt"

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusClaimed    JobStatus = "claimed"
	StatusAccepted   JobStatus = "accepted"
	StatusOnTheWay   JobStatus = "on_the_way"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusCancelled  JobStatus = "cancelled"
)

// forward lists the single legal forward step out of each non-terminal state.
// Cancellation is handled separately since it is reachable from all of them.
var forward = map[JobStatus]JobStatus{
	StatusPending:    StatusClaimed,
	StatusClaimed:    StatusAccepted,
	StatusAccepted:   StatusOnTheWay,
	StatusOnTheWay:   StatusInProgress,
	StatusInProgress: StatusCompleted,
}

// ParseJobStatus converts a raw string into a JobStatus
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return st, nil
}

func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusAccepted, StatusOnTheWay, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HasClaimant reports whether a job in this state must carry a claimant
func (s JobStatus) HasClaimant() bool {
	switch s {
	case StatusClaimed, StatusAccepted, StatusOnTheWay, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// AcceptsBackup reports whether a backup claim may shadow a job in this state
func (s JobStatus) AcceptsBackup() bool {
	return s == StatusClaimed || s == StatusAccepted || s == StatusOnTheWay
}

// Next returns the forward step out of s, if any
func (s JobStatus) Next() (JobStatus, bool) {
	next, ok := forward[s]
	return next, ok
}

// CanTransition reports whether from -> to is a legal lifecycle move.
// Only single forward steps and cancellation of a non-terminal job are legal.
func CanTransition(from, to JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	next, ok := forward[from]
	return ok && next == to
}

// BackupStates lists the states in which a backup claimant may exist
func BackupStates() []JobStatus {
	return []JobStatus{StatusClaimed, StatusAccepted, StatusOnTheWay}
}

// NonTerminalStates lists every state a job can still leave
func NonTerminalStates() []JobStatus {
	return []JobStatus{StatusPending, StatusClaimed, StatusAccepted, StatusOnTheWay, StatusInProgress}
}

// ServiceType is the kind of equipment a job needs
type ServiceType string

const (
	ServiceTruck  ServiceType = "truck"
	ServiceShovel ServiceType = "shovel"
	ServiceAny    ServiceType = "any"
)

func (t ServiceType) IsValid() bool {
	return t == ServiceTruck || t == ServiceShovel || t == ServiceAny
}

// ServedBy reports whether a worker with or without a truck can take the job.
// Truck jobs need a truck; shovel and any jobs can be done by anyone.
func (t ServiceType) ServedBy(hasTruck bool) bool {
	if t == ServiceTruck {
		return hasTruck
	}
	return true
}

// Role identifies the caller of an operation
type Role string

const (
	RoleWorker   Role = "worker"
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

func (r Role) IsValid() bool {
	return r == RoleWorker || r == RoleCustomer || r == RoleAdmin || r == RoleSystem
}

// Actor is the identity performing an operation, recorded in the audit log
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) String() string {
	return string(a.Role) + ":" + a.ID
}

// SystemActor is used for scheduler-driven transitions
var SystemActor = Actor{ID: "scheduler", Role: RoleSystem}

// Channel is a notification delivery channel
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelNone  Channel = "none"
)

// PushMessage is the payload handed to the push gateway
type PushMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// DailySnowfall is one day of a snowfall forecast
type DailySnowfall struct {
	Date   string  `json:"date"` // YYYY-MM-DD in the region's timezone
	Inches float64 `json:"inches"`
}
