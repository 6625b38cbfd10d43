// Package chain_submitter delivers update plans to one network: it builds,
// signs and broadcasts the transaction, waits for its receipt, retries
// classified-transient failures with backoff, and records confirmed prices.
package chain_submitter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain"
	"github.com/archon-research/oracle-pusher/internal/pkg/clock"
	"github.com/archon-research/oracle-pusher/internal/pkg/retry"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// tracerName is the instrumentation name for this service.
const tracerName = "github.com/archon-research/oracle-pusher/internal/services/chain_submitter"

// nativeDecimals is the precision of the native token on every supported chain.
const nativeDecimals = 18

// State is a step of the submission state machine.
type State string

const (
	StateIdle       State = "idle"
	StateBuilding   State = "building"
	StateSubmitting State = "submitting"
	StateConfirming State = "confirming"
	StateFailed     State = "failed"
)

// StateConfirmer records confirmed plan entries. *feed_state.Store satisfies it.
type StateConfirmer interface {
	Confirm(ctx context.Context, network string, entries []entity.PlanEntry) int
}

// Config holds configuration for a submitter.
type Config struct {
	// MaxAttempts bounds the Building→Confirming attempts per plan.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool

	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	RPCTimeout          time.Duration

	// GasLimitMultiplier is applied to the node's gas estimate.
	GasLimitMultiplier float64
	// FeeBumpPercent raises fees over the previous broadcast when a
	// transaction is rebuilt, so the node accepts it as a replacement.
	FeeBumpPercent int64

	Clock  clock.Clock
	Logger *slog.Logger
}

func configDefaults() Config {
	return Config{
		MaxAttempts:         4,
		InitialBackoff:      2 * time.Second,
		MaxBackoff:          30 * time.Second,
		BackoffFactor:       2.0,
		ReceiptTimeout:      90 * time.Second,
		ReceiptPollInterval: 2 * time.Second,
		RPCTimeout:          15 * time.Second,
		GasLimitMultiplier:  1.2,
		FeeBumpPercent:      15,
		Clock:               clock.Real{},
		Logger:              slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := configDefaults()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = d.ReceiptTimeout
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = d.ReceiptPollInterval
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = d.RPCTimeout
	}
	if c.GasLimitMultiplier < 1 {
		c.GasLimitMultiplier = d.GasLimitMultiplier
	}
	if c.FeeBumpPercent < 10 {
		c.FeeBumpPercent = d.FeeBumpPercent
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// Submitter owns the delivery of update plans to one network. Submit must
// not be called concurrently for the same Submitter; callers serialize it
// through the network's in-flight marker.
type Submitter struct {
	config  Config
	network *entity.NetworkTarget
	client  outbound.ChainClient
	updates outbound.UpdateDataSource
	state   StateConfirmer
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	pyth    *blockchain.PythContract
	logger  *slog.Logger

	chainVerified atomic.Bool
}

// NewSubmitter creates a submitter for one network.
func NewSubmitter(
	config Config,
	network *entity.NetworkTarget,
	client outbound.ChainClient,
	updates outbound.UpdateDataSource,
	state StateConfirmer,
	key *ecdsa.PrivateKey,
) (*Submitter, error) {
	if network == nil {
		return nil, fmt.Errorf("network cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("chain client cannot be nil")
	}
	if updates == nil {
		return nil, fmt.Errorf("update data source cannot be nil")
	}
	if state == nil {
		return nil, fmt.Errorf("state confirmer cannot be nil")
	}
	if key == nil {
		return nil, fmt.Errorf("signing key cannot be nil")
	}

	pyth, err := blockchain.NewPythContract()
	if err != nil {
		return nil, err
	}

	config = config.withDefaults()

	return &Submitter{
		config:  config,
		network: network,
		client:  client,
		updates: updates,
		state:   state,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(big.NewInt(network.ChainID)),
		pyth:    pyth,
		logger:  config.Logger.With("component", "chain-submitter", "network", network.Name),
	}, nil
}

// Network returns the submitter's target network.
func (s *Submitter) Network() *entity.NetworkTarget {
	return s.network
}

// From returns the signing address.
func (s *Submitter) From() common.Address {
	return s.from
}

// run is the mutable state of one plan's delivery across attempts.
type run struct {
	plan       entity.UpdatePlan
	state      State
	updateData [][]byte
	updateFee  *big.Int

	// Every hash broadcast for this plan; any of them confirming completes it.
	sent    []common.Hash
	lastTip *big.Int
	lastCap *big.Int
}

// Submit delivers one plan and returns its terminal outcome. The state
// confirmer is called if and only if a transaction for this plan is mined
// successfully.
func (s *Submitter) Submit(ctx context.Context, plan entity.UpdatePlan) entity.SubmissionOutcome {
	start := s.config.Clock.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "chain_submitter.Submit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("network", s.network.Name),
			attribute.Int("plan.sequence", plan.Sequence),
			attribute.Int("plan.feeds", plan.Len()),
		),
	)
	defer span.End()

	outcome := entity.SubmissionOutcome{
		Network:   s.network.Name,
		ChainID:   s.network.ChainID,
		Sequence:  plan.Sequence,
		FeedIDs:   plan.FeedIDs(),
		StartedAt: start,
	}

	r := &run{plan: plan, state: StateIdle, updateData: plan.UpdateData}
	backoff := retry.NewBackoff(retry.Config{
		MaxRetries:     s.config.MaxAttempts - 1,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  s.config.BackoffFactor,
		Jitter:         s.config.Jitter,
	}, s.config.Clock)

	var lastErr *SubmissionError
	for {
		attempt := backoff.Begin()
		receipt, err := s.attempt(ctx, r)
		if err == nil {
			s.transition(r, StateIdle)
			s.succeed(ctx, r, receipt, &outcome)
			break
		}

		lastErr = err
		s.transition(r, StateFailed)

		if !err.Class.Retryable() {
			s.logger.Warn("submission abandoned",
				"sequence", plan.Sequence,
				"attempt", attempt,
				"stage", err.Stage,
				"class", err.Class,
				"error", err.Err)
			break
		}

		delay, ok := backoff.Fail()
		if !ok {
			s.logger.Warn("submission retries exhausted",
				"sequence", plan.Sequence,
				"attempts", attempt,
				"stage", err.Stage,
				"error", err.Err)
			break
		}

		s.logger.Info("transient submission failure, retrying",
			"sequence", plan.Sequence,
			"attempt", attempt,
			"stage", err.Stage,
			"backoff", delay,
			"error", err.Err)

		if waitErr := backoff.Wait(ctx); waitErr != nil {
			lastErr = &SubmissionError{Class: entity.ErrorClassTransient, Stage: err.Stage, Err: errors.Join(err.Err, waitErr)}
			break
		}
	}

	outcome.Attempts = backoff.Attempts()
	outcome.FinishedAt = s.config.Clock.Now()
	if lastErr != nil && !outcome.Success {
		outcome.ErrorClass = lastErr.Class
		outcome.Err = lastErr
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, string(lastErr.Class))
	}
	span.SetAttributes(attribute.Int("attempts", outcome.Attempts))
	return outcome
}

func (s *Submitter) transition(r *run, next State) {
	if r.state == next {
		return
	}
	s.logger.Debug("submission state", "sequence", r.plan.Sequence, "from", r.state, "to", next)
	r.state = next
}

// attempt runs Building → Submitting → Confirming once.
func (s *Submitter) attempt(ctx context.Context, r *run) (*types.Receipt, *SubmissionError) {
	s.transition(r, StateBuilding)

	if err := s.verifyChain(ctx); err != nil {
		return nil, classified(StageBuilding, err)
	}

	// A replaced or slow transaction from an earlier attempt may have landed.
	if receipt, err := s.findReceipt(ctx, r); err != nil {
		return nil, classified(StageConfirming, err)
	} else if receipt != nil {
		return receipt, nil
	}

	tx, err := s.build(ctx, r)
	if err != nil {
		return nil, classified(StageBuilding, err)
	}

	s.transition(r, StateSubmitting)
	if err := s.broadcast(ctx, r, tx); err != nil {
		return nil, classified(StageSubmitting, err)
	}

	s.transition(r, StateConfirming)
	receipt, err := s.waitForReceipt(ctx, r)
	if err != nil {
		return nil, classified(StageConfirming, err)
	}
	return receipt, nil
}

func (s *Submitter) build(ctx context.Context, r *run) (*types.Transaction, error) {
	if r.updateData == nil {
		data, err := s.fetchUpdateData(ctx, r.plan.FeedIDs())
		if err != nil {
			return nil, &SubmissionError{Class: entity.ErrorClassTransient, Stage: StageBuilding, Err: fmt.Errorf("fetching update data: %w", err)}
		}
		r.updateData = data
	}

	fee, err := s.updateFee(ctx, r.updateData)
	if err != nil {
		return nil, fmt.Errorf("querying update fee: %w", err)
	}
	r.updateFee = fee

	nonce, err := s.nonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching nonce: %w", err)
	}

	tip, feeCap, legacy, err := s.fees(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("fetching gas price: %w", err)
	}

	calldata, err := s.pyth.PackUpdatePriceFeeds(r.updateData)
	if err != nil {
		return nil, &SubmissionError{Class: entity.ErrorClassFatal, Stage: StageBuilding, Err: err}
	}

	to := s.network.OracleAddress
	msg := ethereum.CallMsg{From: s.from, To: &to, Value: fee, Data: calldata}
	if legacy {
		msg.GasPrice = feeCap
	} else {
		msg.GasFeeCap = feeCap
		msg.GasTipCap = tip
	}

	rpcCtx, cancel := context.WithTimeout(ctx, s.config.RPCTimeout)
	estimate, err := s.client.EstimateGas(rpcCtx, msg)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("estimating gas: %w", err)
	}
	gasLimit := uint64(float64(estimate) * s.config.GasLimitMultiplier)

	var inner types.TxData
	if legacy {
		inner = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: feeCap,
			Gas:      gasLimit,
			To:       &to,
			Value:    fee,
			Data:     calldata,
		}
	} else {
		inner = &types.DynamicFeeTx{
			ChainID:   big.NewInt(s.network.ChainID),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     fee,
			Data:      calldata,
		}
	}

	signed, err := types.SignTx(types.NewTx(inner), s.signer, s.key)
	if err != nil {
		return nil, &SubmissionError{Class: entity.ErrorClassFatal, Stage: StageBuilding, Err: fmt.Errorf("signing transaction: %w", err)}
	}

	r.lastTip = tip
	r.lastCap = feeCap

	s.logger.Debug("built transaction",
		"sequence", r.plan.Sequence,
		"nonce", nonce,
		"gas", gasLimit,
		"updateFee", fee,
		"maxFee", feeCap,
		"legacy", legacy)
	return signed, nil
}

func (s *Submitter) fetchUpdateData(ctx context.Context, feedIDs []string) ([][]byte, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, s.config.RPCTimeout)
	defer cancel()

	data, err := s.updates.FetchUpdateData(rpcCtx, feedIDs)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("price source returned no update data for %d feeds", len(feedIDs))
	}
	return data, nil
}

func (s *Submitter) updateFee(ctx context.Context, updateData [][]byte) (*big.Int, error) {
	calldata, err := s.pyth.PackGetUpdateFee(updateData)
	if err != nil {
		return nil, err
	}
	to := s.network.OracleAddress

	rpcCtx, cancel := context.WithTimeout(ctx, s.config.RPCTimeout)
	defer cancel()

	ret, err := s.client.CallContract(rpcCtx, ethereum.CallMsg{From: s.from, To: &to, Data: calldata}, nil)
	if err != nil {
		return nil, err
	}
	return s.pyth.UnpackGetUpdateFee(ret)
}

// verifyChain checks once per submitter that the RPC endpoint serves the
// configured chain. A mismatch is fatal; an unreachable node is retried like
// any other RPC failure.
func (s *Submitter) verifyChain(ctx context.Context) error {
	if s.chainVerified.Load() {
		return nil
	}

	rpcCtx, cancel := context.WithTimeout(ctx, s.config.RPCTimeout)
	defer cancel()
	id, err := s.client.ChainID(rpcCtx)
	if err != nil {
		return fmt.Errorf("reading chain id: %w", err)
	}
	if !id.IsInt64() || id.Int64() != s.network.ChainID {
		return &SubmissionError{
			Class: entity.ErrorClassFatal,
			Stage: StageBuilding,
			Err:   fmt.Errorf("%w: RPC serves %s, configured %d", ErrChainIDMismatch, id, s.network.ChainID),
		}
	}
	s.chainVerified.Store(true)
	return nil
}

// nonce returns the signer's latest mined nonce. A rebuild therefore reuses
// the nonce of a still-pending broadcast and replaces it.
func (s *Submitter) nonce(ctx context.Context) (uint64, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, s.config.RPCTimeout)
	defer cancel()
	return s.client.NonceAt(rpcCtx, s.from, nil)
}

// fees returns the tip and fee cap for an EIP-1559 transaction, or the gas
// price (as feeCap) with legacy set when the chain reports no base fee.
// Rebuilds are bumped above the previous broadcast.
func (s *Submitter) fees(ctx context.Context, r *run) (tip, feeCap *big.Int, legacy bool, err error) {
	rpcCtx, cancel := context.WithTimeout(ctx, s.config.RPCTimeout)
	defer cancel()

	header, err := s.client.HeaderByNumber(rpcCtx, nil)
	if err != nil {
		return nil, nil, false, err
	}

	if header.BaseFee == nil {
		gasPrice, err := s.client.SuggestGasPrice(rpcCtx)
		if err != nil {
			return nil, nil, false, err
		}
		gasPrice = atLeast(gasPrice, s.bump(r.lastCap))
		return nil, gasPrice, true, nil
	}

	tip, err = s.client.SuggestGasTipCap(rpcCtx)
	if err != nil {
		return nil, nil, false, err
	}
	tip = atLeast(tip, s.bump(r.lastTip))

	feeCap = new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	feeCap = atLeast(feeCap, s.bump(r.lastCap))
	return tip, feeCap, false, nil
}

func (s *Submitter) bump(prev *big.Int) *big.Int {
	if prev == nil {
		return nil
	}
	out := new(big.Int).Mul(prev, big.NewInt(100+s.config.FeeBumpPercent))
	out.Add(out, big.NewInt(99))
	return out.Div(out, big.NewInt(100))
}

func atLeast(v, floor *big.Int) *big.Int {
	if floor != nil && v.Cmp(floor) < 0 {
		return new(big.Int).Set(floor)
	}
	return v
}

func (s *Submitter) broadcast(ctx context.Context, r *run, tx *types.Transaction) error {
	rpcCtx, cancel := context.WithTimeout(ctx, s.config.RPCTimeout)
	defer cancel()

	err := s.client.SendTransaction(rpcCtx, tx)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already known") {
		return fmt.Errorf("sending transaction: %w", err)
	}

	r.sent = append(r.sent, tx.Hash())
	s.logger.Info("transaction broadcast",
		"sequence", r.plan.Sequence,
		"tx", tx.Hash().Hex(),
		"nonce", tx.Nonce(),
		"feeds", r.plan.Len())
	return nil
}

// findReceipt checks every hash broadcast for this plan. It returns
// (nil, nil) when none has been mined.
func (s *Submitter) findReceipt(ctx context.Context, r *run) (*types.Receipt, error) {
	for i := len(r.sent) - 1; i >= 0; i-- {
		rpcCtx, cancel := context.WithTimeout(ctx, s.config.RPCTimeout)
		receipt, err := s.client.TransactionReceipt(rpcCtx, r.sent[i])
		cancel()

		if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
			continue
		}
		if err != nil {
			s.logger.Debug("receipt lookup failed", "tx", r.sent[i].Hex(), "error", err)
			continue
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, &SubmissionError{
				Class: entity.ErrorClassFatal,
				Stage: StageConfirming,
				Err:   fmt.Errorf("%w: tx %s in block %s", errReverted, receipt.TxHash.Hex(), receipt.BlockNumber),
			}
		}
		return receipt, nil
	}
	return nil, nil
}

func (s *Submitter) waitForReceipt(ctx context.Context, r *run) (*types.Receipt, error) {
	deadline := s.config.Clock.Now().Add(s.config.ReceiptTimeout)
	for {
		receipt, err := s.findReceipt(ctx, r)
		if err != nil || receipt != nil {
			return receipt, err
		}

		if !s.config.Clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w after %s (tx %s)", errReceiptTimeout, s.config.ReceiptTimeout, r.sent[len(r.sent)-1].Hex())
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt: %w", ctx.Err())
		case <-s.config.Clock.After(s.config.ReceiptPollInterval):
		}
	}
}

func (s *Submitter) succeed(ctx context.Context, r *run, receipt *types.Receipt, outcome *entity.SubmissionOutcome) {
	applied := s.state.Confirm(ctx, s.network.Name, r.plan.Entries)

	outcome.Success = true
	outcome.ConfirmedFeedIDs = r.plan.FeedIDs()
	outcome.TxHash = receipt.TxHash
	outcome.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		outcome.BlockNumber = receipt.BlockNumber.Uint64()
	}
	outcome.UpdateFee = r.updateFee

	gasCost := new(big.Int).SetUint64(receipt.GasUsed)
	if receipt.EffectiveGasPrice != nil {
		gasCost.Mul(gasCost, receipt.EffectiveGasPrice)
	} else {
		gasCost.SetInt64(0)
	}
	total := new(big.Int).Set(gasCost)
	if r.updateFee != nil {
		total.Add(total, r.updateFee)
	}
	outcome.FeeWei = total
	outcome.FeeNative = decimal.NewFromBigInt(total, -nativeDecimals)
	outcome.ExplorerURL = s.network.TxURL(receipt.TxHash)

	s.logger.Debug("confirmed state recorded", "sequence", r.plan.Sequence, "applied", applied)
}
