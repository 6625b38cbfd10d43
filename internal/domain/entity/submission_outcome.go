package entity

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ErrorClass classifies a submission failure by how it should be retried.
type ErrorClass string

const (
	// ErrorClassNone marks a successful outcome.
	ErrorClassNone ErrorClass = ""
	// ErrorClassTransient is retried in place with backoff.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassNextCycle abandons the plan; the next cycle regenerates it.
	ErrorClassNextCycle ErrorClass = "next_cycle"
	// ErrorClassFatal abandons the network for this cycle without retry.
	ErrorClassFatal ErrorClass = "fatal"
)

// Retryable reports whether the class allows an in-place retry.
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassTransient
}

// SubmissionOutcome is the terminal result of one UpdatePlan on one network.
type SubmissionOutcome struct {
	CycleID          string
	Network          string
	ChainID          int64
	Sequence         int
	Success          bool
	ConfirmedFeedIDs []string
	FeedIDs          []string
	ErrorClass       ErrorClass
	Err              error

	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	UpdateFee   *big.Int // paid to the oracle contract
	FeeWei      *big.Int // gas cost plus UpdateFee
	FeeNative   decimal.Decimal
	FeeUSD      *decimal.Decimal
	ExplorerURL string

	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time from the plan entering Building to its terminal state.
func (o *SubmissionOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Status returns "success" or "failure".
func (o *SubmissionOutcome) Status() string {
	if o.Success {
		return "success"
	}
	return "failure"
}

// ErrorMessage returns the failure's message, or "" on success.
func (o *SubmissionOutcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
