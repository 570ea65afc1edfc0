package domain

import "time"

// Outcome is what happened to one operation at one point of its lifecycle.
type Outcome string

const (
	OutcomeSubmitted Outcome = "SUBMITTED"
	OutcomeDryRun    Outcome = "DRY_RUN"
	OutcomeFailed    Outcome = "FAILED"    // transport or ack failure, will retry
	OutcomeExhausted Outcome = "EXHAUSTED" // retry budget spent, abandoned
	OutcomeRejected  Outcome = "REJECTED"  // cancel rejected by the exchange, not retried
	OutcomeAccepted  Outcome = "ACCEPTED"  // tx ack with success status
	OutcomeConfirmed Outcome = "CONFIRMED" // seen resting in a snapshot
	OutcomeClosed    Outcome = "CLOSED"    // seen filled or cancelled in a snapshot
	OutcomeDropped   Outcome = "DROPPED"   // directive dropped on signing failure
)

// RunInfo identifies one engine process.
type RunInfo struct {
	RunID     string
	MarketID  int64
	DryRun    bool
	StartedAt time.Time
}

// DirectiveRecord is the journal row for one emitted directive.
type DirectiveRecord struct {
	RunID       string
	DirectiveID uint64
	Attempt     int
	Source      string
	Creates     int
	Cancels     int
	CreatedAt   time.Time
}

// OutcomeRecord is the journal row for one operation outcome.
type OutcomeRecord struct {
	RunID         string
	DirectiveID   uint64
	ClientOrderID int64
	Side          Side
	Action        ActionKind
	PriceTicks    int64
	OrderIndex    int64
	Outcome       Outcome
	Attempt       int
	Detail        string
	At            time.Time
}

// BreakerTrip is the journal row for one emergency cancel-all.
type BreakerTrip struct {
	RunID     string
	LiveCount int
	Cooldown  time.Duration
	At        time.Time
}

// ExecutionStats aggregates the journal of one run.
type ExecutionStats struct {
	RunID        string
	MarketID     int64
	DryRun       bool
	StartedAt    time.Time
	LastActivity time.Time
	Directives   int
	Retries      int
	Outcomes     map[Outcome]int
	BreakerTrips int
	LiveOrders   int
}

// ExecutionReport is everything the report command shows for one run.
type ExecutionReport struct {
	Stats    ExecutionStats
	Outcomes []OutcomeRecord // most recent first
	Trips    []BreakerTrip
	Live     []LiveOrder
}
