package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/snow-dispatch/pkg/core/dispatch"
	"github.com/jakechorley/snow-dispatch/pkg/core/model"
	"github.com/jakechorley/snow-dispatch/pkg/db"
)

// PushSender delivers a push notification to a subscription
type PushSender interface {
	SendPush(ctx context.Context, subscription string, msg model.PushMessage) error
}

// SMSSender delivers a text message
type SMSSender interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// EmailSender delivers an email
type EmailSender interface {
	SendEmail(to, subject, body string) error
}

// NotifierStore is the subset of the database the notifier reads and appends to
type NotifierStore interface {
	ListOnlineWorkers(ctx context.Context, filter db.WorkerFilter) ([]db.Worker, error)
	AppendNotificationLog(ctx context.Context, entry db.NotificationLog) error
}

// Attempt is one recorded notification attempt
type Attempt struct {
	Recipient string
	Channel   model.Channel
	Outcome   string
	Reason    string
}

// DispatchReport summarises one fan-out
type DispatchReport struct {
	Sent     int
	Skipped  int
	Failed   int
	Attempts []Attempt
}

func (r *DispatchReport) add(a Attempt) {
	r.Attempts = append(r.Attempts, a)
	switch a.Outcome {
	case db.OutcomeSent:
		r.Sent++
	case db.OutcomeSkipped:
		r.Skipped++
	case db.OutcomeFailed:
		r.Failed++
	}
}

// NotifierConfig holds the notifier's tunables
type NotifierConfig struct {
	PresenceTTL    time.Duration
	DispatchRadius float64 // miles, 0 disables distance filtering
	PublicBaseURL  string
}

// Notifier fans job and storm alerts out to eligible workers and keeps customers
// informed. Delivery is best effort: failures are recorded in the notification log
// and never abort the operation that triggered them.
type Notifier struct {
	store    NotifierStore
	push     PushSender
	sms      SMSSender
	email    EmailSender
	criteria []dispatch.Criterion
	cfg      NotifierConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotifier creates a notifier. Any sender may be nil, in which case that
// channel is recorded as not configured.
func NewNotifier(store NotifierStore, push PushSender, sms SMSSender, email EmailSender, cfg NotifierConfig, logger *zap.Logger) *Notifier {
	return &Notifier{
		store:    store,
		push:     push,
		sms:      sms,
		email:    email,
		criteria: dispatch.DefaultCriteria(cfg.PresenceTTL, cfg.DispatchRadius),
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NotifyEligibleWorkers announces a pending job to every online worker that passes the eligibility criteria
func (n *Notifier) NotifyEligibleWorkers(ctx context.Context, job *db.Job) (*DispatchReport, error) {
	price := job.MaxPrice * job.SurgeMultiplier
	text := fmt.Sprintf("New %s job near %s: up to $%.2f", job.ServiceType, job.Address, price)
	if job.BidMode {
		text = fmt.Sprintf("New %s job near %s is taking bids (max $%.2f)", job.ServiceType, job.Address, price)
	}
	msg := model.PushMessage{
		Title: "New snow job",
		Body:  text,
		Data:  map[string]string{"job_id": job.ID, "url": n.jobURL(job.ID)},
	}

	return n.fanOut(ctx, dispatch.Target{Job: job, Now: n.now()}, db.KindJobAlert, job.ID, "", msg)
}

// NotifyStorm broadcasts a storm event. It returns ErrNotificationDeliveryFailed when
// every delivery attempt failed, so the caller can leave the event eligible for a retry.
func (n *Notifier) NotifyStorm(ctx context.Context, event *db.StormEvent) (*DispatchReport, error) {
	text := fmt.Sprintf("Storm alert: %.1f in of snow forecast for %s. Surge pricing %.2fx. Go online to pick up jobs.",
		event.ForecastInches, event.Day, event.SurgeMultiplier)
	msg := model.PushMessage{
		Title: "Storm incoming",
		Body:  text,
		Data:  map[string]string{"storm_event_id": event.ID, "day": event.Day},
	}

	report, err := n.fanOut(ctx, dispatch.Target{Now: n.now()}, db.KindStormAlert, "", event.ID, msg)
	if err != nil {
		return nil, err
	}
	if report.Failed > 0 && report.Sent == 0 {
		return report, fmt.Errorf("%w: %d storm alerts failed", ErrNotificationDeliveryFailed, report.Failed)
	}
	return report, nil
}

// NotifyCustomer texts the customer and, if they gave one, emails them
func (n *Notifier) NotifyCustomer(ctx context.Context, job *db.Job, subject, message string) {
	if job.CustomerPhone != "" {
		attempt := Attempt{Recipient: job.CustomerPhone, Channel: model.ChannelSMS}
		n.deliver(ctx, &attempt, func() error {
			return n.sms.SendSMS(ctx, job.CustomerPhone, message)
		}, n.sms == nil)
		n.record(ctx, db.KindCustomerUpdate, job.ID, "", attempt)
	}

	if job.CustomerEmail != "" {
		attempt := Attempt{Recipient: job.CustomerEmail, Channel: model.ChannelEmail}
		n.deliver(ctx, &attempt, func() error {
			return n.email.SendEmail(job.CustomerEmail, subject, message)
		}, n.email == nil)
		n.record(ctx, db.KindCustomerUpdate, job.ID, "", attempt)
	}
}

func (n *Notifier) fanOut(ctx context.Context, target dispatch.Target, kind, jobID, stormID string, msg model.PushMessage) (*DispatchReport, error) {
	filter := db.WorkerFilter{}
	if n.cfg.PresenceTTL > 0 {
		filter.SeenSince = target.Now.Add(-n.cfg.PresenceTTL)
	}
	workers, err := n.store.ListOnlineWorkers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list online workers: %w", err)
	}

	n.logger.Debug("Dispatching notifications",
		zap.String("kind", kind),
		zap.String("job_id", jobID),
		zap.String("storm_event_id", stormID),
		zap.Int("candidates", len(workers)))

	report := &DispatchReport{}
	for _, w := range workers {
		decision := dispatch.Evaluate(n.criteria, target, w)
		attempt := n.send(ctx, decision, msg)
		report.add(attempt)
		n.record(ctx, kind, jobID, stormID, attempt)

		// Push that could not be delivered falls back to SMS, which has its own criteria
		if !decision.Allowed || decision.Channel != model.ChannelPush || attempt.Outcome == db.OutcomeSent || n.sms == nil {
			continue
		}
		fallback := n.send(ctx, dispatch.EvaluateChannel(n.criteria, target, w, model.ChannelSMS), msg)
		n.logger.Info("Falling back to SMS",
			zap.String("recipient", w.ID),
			zap.String("push_reason", attempt.Reason),
			zap.String("outcome", fallback.Outcome),
			zap.String("reason", fallback.Reason))
		report.add(fallback)
		n.record(ctx, kind, jobID, stormID, fallback)
	}

	n.logger.Info("Dispatch complete",
		zap.String("kind", kind),
		zap.String("job_id", jobID),
		zap.String("storm_event_id", stormID),
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))

	return report, nil
}

// send delivers msg on the decision's channel, or records why it was skipped
func (n *Notifier) send(ctx context.Context, decision dispatch.Decision, msg model.PushMessage) Attempt {
	attempt := Attempt{Recipient: decision.Worker.ID, Channel: decision.Channel}
	if !decision.Allowed {
		attempt.Outcome = db.OutcomeSkipped
		attempt.Reason = decision.Reason
		return attempt
	}

	worker := decision.Worker
	switch decision.Channel {
	case model.ChannelPush:
		n.deliver(ctx, &attempt, func() error {
			return n.push.SendPush(ctx, worker.PushSubscription, msg)
		}, n.push == nil)
	case model.ChannelSMS:
		n.deliver(ctx, &attempt, func() error {
			return n.sms.SendSMS(ctx, worker.ID, msg.Body)
		}, n.sms == nil)
	}
	return attempt
}

// deliver runs send and fills in the attempt outcome
func (n *Notifier) deliver(ctx context.Context, attempt *Attempt, send func() error, notConfigured bool) {
	if notConfigured {
		attempt.Outcome = db.OutcomeSkipped
		attempt.Reason = dispatch.ReasonNotConfigured
		return
	}
	if err := send(); err != nil {
		n.logger.Warn("Notification delivery failed",
			zap.String("recipient", attempt.Recipient),
			zap.String("channel", string(attempt.Channel)),
			zap.Error(err))
		attempt.Outcome = db.OutcomeFailed
		attempt.Reason = dispatch.ReasonProviderError
		return
	}
	attempt.Outcome = db.OutcomeSent
	attempt.Reason = dispatch.ReasonDelivered
}

func (n *Notifier) record(ctx context.Context, kind, jobID, stormID string, attempt Attempt) {
	entry := db.NotificationLog{
		ID:           uuid.New().String(),
		Kind:         kind,
		Recipient:    attempt.Recipient,
		Channel:      attempt.Channel,
		JobID:        jobID,
		StormEventID: stormID,
		Outcome:      attempt.Outcome,
		Reason:       attempt.Reason,
		At:           n.now(),
	}
	if err := n.store.AppendNotificationLog(ctx, entry); err != nil {
		n.logger.Error("Failed to append notification log",
			zap.String("recipient", attempt.Recipient),
			zap.Error(err))
	}
}

func (n *Notifier) jobURL(jobID string) string {
	if n.cfg.PublicBaseURL == "" {
		return ""
	}
	return n.cfg.PublicBaseURL + "/jobs/" + jobID
}
