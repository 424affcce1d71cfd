package services

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrAlreadyClaimed means another worker won the race for the job; refresh and move on
	ErrAlreadyClaimed = errors.New("this job was just claimed by someone else")

	// ErrBidWindowClosed means the job no longer accepts bids
	ErrBidWindowClosed = errors.New("bidding for this job has closed")

	// ErrBidOutOfBounds is matched by every BidBoundsError
	ErrBidOutOfBounds = errors.New("bid amount out of bounds")

	// ErrWorkerSuspended is a hard reject; the worker must appeal
	ErrWorkerSuspended = errors.New("your account is suspended after 3 no-shows; contact support to appeal")

	// ErrForecastUnavailable means the surge check skipped this cycle
	ErrForecastUnavailable = errors.New("forecast unavailable")

	// ErrNotificationDeliveryFailed is logged and never surfaced as a business failure
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")

	// ErrStormEventConflict means another scheduler already created the day's event. Benign.
	ErrStormEventConflict = errors.New("storm event already exists for this day")

	ErrJobNotFound       = errors.New("job not found")
	ErrWorkerNotFound    = errors.New("worker not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrNotBidMode        = errors.New("job does not accept bids")
	ErrBidRequired       = errors.New("job is in bid mode; submit a bid instead")
	ErrBidNotFound       = errors.New("bid not found")
	ErrBackupUnavailable = errors.New("backup claim not available for this job")
	ErrPromotionNotDue   = errors.New("backup promotion is not due yet")
	ErrConcurrentUpdate  = errors.New("job was modified concurrently; refresh and retry")
	ErrForbidden         = errors.New("not allowed to act on this job")
	ErrInvalidInput      = errors.New("invalid input")
)

// Bid amount bounds in currency units, inclusive
const (
	MinBidAmount = 10.0
	MaxBidAmount = 500.0
)

// BidBoundsError names the bound a bid violated
type BidBoundsError struct {
	Amount float64
	Bound  string // "min" or "max"
	Limit  float64
}

func (e *BidBoundsError) Error() string {
	if e.Bound == "min" {
		return fmt.Sprintf("bid amount %.2f is below the minimum of %.2f", e.Amount, e.Limit)
	}
	return fmt.Sprintf("bid amount %.2f is above the maximum of %.2f", e.Amount, e.Limit)
}

func (e *BidBoundsError) Is(target error) bool {
	return target == ErrBidOutOfBounds
}

// CheckBidBounds returns a BidBoundsError if amount is outside [MinBidAmount, MaxBidAmount]
func CheckBidBounds(amount float64) error {
	if amount < MinBidAmount || math.IsNaN(amount) {
		return &BidBoundsError{Amount: amount, Bound: "min", Limit: MinBidAmount}
	}
	if amount > MaxBidAmount {
		return &BidBoundsError{Amount: amount, Bound: "max", Limit: MaxBidAmount}
	}
	return nil
}
