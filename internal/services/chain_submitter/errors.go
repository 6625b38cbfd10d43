package chain_submitter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain"
	"github.com/archon-research/oracle-pusher/internal/pkg/hexutil"
)

// Stage is the submitter state in which an error occurred.
type Stage string

const (
	StageBuilding   Stage = "building"
	StageSubmitting Stage = "submitting"
	StageConfirming Stage = "confirming"
)

// SubmissionError is a classified failure to deliver a plan.
type SubmissionError struct {
	Class entity.ErrorClass
	Stage Stage
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Class, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// classified wraps err with the class Classify assigns to it.
func classified(stage Stage, err error) *SubmissionError {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se
	}
	return &SubmissionError{Class: Classify(err), Stage: stage, Err: err}
}

// ErrChainIDMismatch reports an RPC endpoint serving a different chain than
// the network is configured for.
var ErrChainIDMismatch = errors.New("chain id mismatch")

var (
	errReceiptTimeout = errors.New("timed out waiting for receipt")
	errReverted       = errors.New("transaction reverted on-chain")
)

// Messages returned by common execution clients, lowercased.
var (
	nextCycleMessages = []string{
		"insufficientfee",
		"insufficient fee",
	}
	fatalMessages = []string{
		"insufficient funds",
		"execution reverted",
		"invalid address",
		"invalid sender",
		"invalid chain id",
		"intrinsic gas too low",
		"exceeds block gas limit",
	}
	transientMessages = []string{
		"nonce too low",
		"nonce too high",
		"replacement transaction underpriced",
		"transaction underpriced",
		"max fee per gas less than block base fee",
		"already known",
		"timeout",
		"connection refused",
		"connection reset",
		"eof",
		"too many requests",
		"rate limit",
		"header not found",
	}
)

// Pyth reverts mapped to a class. Anything not listed falls through to the
// generic message rules.
var pythErrorClass = map[string]entity.ErrorClass{
	blockchain.ErrNameInsufficientFee: entity.ErrorClassNextCycle,
	blockchain.ErrNameStalePrice:      entity.ErrorClassNextCycle,
	blockchain.ErrNameNoFreshUpdate:   entity.ErrorClassNextCycle,
	"InvalidUpdateData":               entity.ErrorClassFatal,
	"InvalidUpdateDataSource":         entity.ErrorClassFatal,
	"InvalidWormholeVaa":              entity.ErrorClassFatal,
	"InvalidArgument":                 entity.ErrorClassFatal,
	"PriceFeedNotFound":               entity.ErrorClassFatal,
	"PriceFeedNotFoundWithinRange":    entity.ErrorClassFatal,
}

var pythContract = sync.OnceValues(blockchain.NewPythContract)

// Classify assigns a retry class to a submission error. Unknown errors are
// treated as transient so that they are retried within the attempt budget.
func Classify(err error) entity.ErrorClass {
	if err == nil {
		return entity.ErrorClassNone
	}

	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Class
	}

	if errors.Is(err, errReverted) {
		return entity.ErrorClassFatal
	}
	if errors.Is(err, errReceiptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return entity.ErrorClassTransient
	}

	if name, ok := revertName(err); ok {
		if class, known := pythErrorClass[name]; known {
			return class
		}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 || httpErr.StatusCode >= 500 {
			return entity.ErrorClassTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return entity.ErrorClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, m := range nextCycleMessages {
		if strings.Contains(msg, m) {
			return entity.ErrorClassNextCycle
		}
	}
	// Transient patterns take precedence over fatal ones.
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return entity.ErrorClassTransient
		}
	}
	for _, m := range fatalMessages {
		if strings.Contains(msg, m) {
			return entity.ErrorClassFatal
		}
	}
	return entity.ErrorClassTransient
}

// revertName extracts the Pyth custom error name from JSON-RPC revert data.
func revertName(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return "", false
	}
	data, decodeErr := hexutil.DecodeBytes(raw)
	if decodeErr != nil {
		return "", false
	}
	pyth, pythErr := pythContract()
	if pythErr != nil {
		return "", false
	}
	return pyth.ErrorName(data)
}
