package dispatch

import (
	"time"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/core/reliability"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// Reason codes recorded in the notification log
const (
	ReasonDelivered      = "delivered"
	ReasonOffline        = "offline"
	ReasonStalePresence  = "stale_presence"
	ReasonSuspended      = "suspended"
	ReasonNoTruck        = "service_type_mismatch"
	ReasonOutOfRange     = "out_of_range"
	ReasonBelowThreshold = "below_sms_threshold"
	ReasonNoChannel      = "no_channel"
	ReasonProviderError  = "provider_error"
	ReasonNotConfigured  = "channel_not_configured"
)

// Target is what a worker is being told about
type Target struct {
	// Job is nil for storm broadcasts
	Job *db.Job
	Now time.Time
}

// Criterion is one eligibility rule. Criteria act as a veto: if any criterion
// rejects, the worker is skipped with that criterion's reason.
type Criterion interface {
	// Name returns a human-readable identifier for this criterion
	Name() string

	// Allows reports whether the worker may be notified about the target on the channel.
	// The returned reason is only meaningful when allowed is false.
	Allows(target Target, worker *db.Worker, channel model.Channel) (allowed bool, reason string)
}

// OnlineCriterion requires the worker to be online and seen within the presence TTL
type OnlineCriterion struct {
	TTL time.Duration
}

func (c OnlineCriterion) Name() string { return "Online" }

func (c OnlineCriterion) Allows(target Target, worker *db.Worker, channel model.Channel) (bool, string) {
	if !worker.IsOnline {
		return false, ReasonOffline
	}
	if c.TTL > 0 && (worker.LastSeenAt == nil || target.Now.Sub(*worker.LastSeenAt) > c.TTL) {
		return false, ReasonStalePresence
	}
	return true, ""
}

// SuspensionCriterion skips workers who have reached the strike limit
type SuspensionCriterion struct{}

func (SuspensionCriterion) Name() string { return "NotSuspended" }

func (SuspensionCriterion) Allows(target Target, worker *db.Worker, channel model.Channel) (bool, string) {
	if reliability.IsSuspended(worker.NoShowStrikes) {
		return false, ReasonSuspended
	}
	return true, ""
}

// ServiceTypeCriterion requires a truck for truck jobs
type ServiceTypeCriterion struct{}

func (ServiceTypeCriterion) Name() string { return "ServiceType" }

func (ServiceTypeCriterion) Allows(target Target, worker *db.Worker, channel model.Channel) (bool, string) {
	if target.Job == nil {
		return true, ""
	}
	if !target.Job.ServiceType.ServedBy(worker.HasTruck) {
		return false, ReasonNoTruck
	}
	return true, ""
}

// DistanceCriterion drops workers further than RadiusMiles in a straight line.
// It only applies when both the job and the worker have coordinates.
type DistanceCriterion struct {
	RadiusMiles float64
}

func (c DistanceCriterion) Name() string { return "Distance" }

func (c DistanceCriterion) Allows(target Target, worker *db.Worker, channel model.Channel) (bool, string) {
	if c.RadiusMiles <= 0 || target.Job == nil || !target.Job.HasCoordinates() || !worker.HasCoordinates() {
		return true, ""
	}
	d := HaversineMiles(*target.Job.Lat, *target.Job.Lon, *worker.Lat, *worker.Lon)
	if d > c.RadiusMiles {
		return false, ReasonOutOfRange
	}
	return true, ""
}

// SMSThresholdCriterion only alerts a worker by SMS about jobs paying at least
// their threshold. Push is not gated.
type SMSThresholdCriterion struct{}

func (SMSThresholdCriterion) Name() string { return "SMSThreshold" }

func (SMSThresholdCriterion) Allows(target Target, worker *db.Worker, channel model.Channel) (bool, string) {
	if channel != model.ChannelSMS || target.Job == nil {
		return true, ""
	}
	if target.Job.MaxPrice < worker.SMSNotifyThreshold {
		return false, ReasonBelowThreshold
	}
	return true, ""
}

// DefaultCriteria returns the criteria in evaluation order
func DefaultCriteria(presenceTTL time.Duration, radiusMiles float64) []Criterion {
	return []Criterion{
		OnlineCriterion{TTL: presenceTTL},
		SuspensionCriterion{},
		ServiceTypeCriterion{},
		DistanceCriterion{RadiusMiles: radiusMiles},
		SMSThresholdCriterion{},
	}
}

// SelectChannel prefers push when the worker has a subscription, otherwise SMS
func SelectChannel(worker *db.Worker) model.Channel {
	if worker.HasPush() {
		return model.ChannelPush
	}
	if worker.ID != "" {
		return model.ChannelSMS
	}
	return model.ChannelNone
}

// Decision is the outcome of evaluating one worker
type Decision struct {
	Worker    db.Worker
	Channel   model.Channel
	Allowed   bool
	Reason    string
	Criterion string // name of the rule that vetoed the worker
}

// Evaluate picks the channel for the worker and runs every criterion against it
func Evaluate(criteria []Criterion, target Target, worker db.Worker) Decision {
	return EvaluateChannel(criteria, target, worker, SelectChannel(&worker))
}

// EvaluateChannel runs every criterion against the worker for the given channel.
// It is used when a preferred channel fails and another is tried.
func EvaluateChannel(criteria []Criterion, target Target, worker db.Worker, channel model.Channel) Decision {
	d := Decision{Worker: worker, Channel: channel}
	if channel == model.ChannelNone {
		d.Reason = ReasonNoChannel
		return d
	}

	for _, c := range criteria {
		if ok, reason := c.Allows(target, &worker, channel); !ok {
			d.Reason = reason
			d.Criterion = c.Name()
			return d
		}
	}

	d.Allowed = true
	return d
}
