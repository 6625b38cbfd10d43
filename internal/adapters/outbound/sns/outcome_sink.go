// Package sns publishes submission outcomes to an AWS SNS topic so that
// downstream consumers (alerting, accounting) can react to oracle updates.
//
// Messages are JSON. Each carries attributes for subscription filtering:
//   - network:    the network name
//   - status:     "success" or "failure"
//   - errorClass: "transient", "next_cycle" or "fatal" (failures only)
//   - chainId:    the chain id as a number
//
// FIFO topics (ARN ending in ".fifo") are grouped per network and
// deduplicated per (cycle, network, plan).
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/retry"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// Compile-time check that OutcomeSink implements outbound.OutcomeSink
var _ outbound.OutcomeSink = (*OutcomeSink)(nil)

// SNSPublisher defines the subset of SNS client methods used by OutcomeSink.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS outcome sink.
type Config struct {
	// TopicARN is the topic every outcome is published to.
	TopicARN string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// Logger is the structured logger for the sink.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Logger:         slog.Default(),
	}
}

// OutcomeSink publishes outcomes to AWS SNS.
type OutcomeSink struct {
	client    SNSPublisher
	config    Config
	fifo      bool
	logger    *slog.Logger
	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// NewOutcomeSink creates a new SNS outcome sink.
func NewOutcomeSink(client SNSPublisher, config Config) (*OutcomeSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &OutcomeSink{
		client: client,
		config: config,
		fifo:   strings.HasSuffix(config.TopicARN, ".fifo"),
		logger: config.Logger.With("component", "sns-outcome-sink"),
	}, nil
}

// Message is the JSON body published for each outcome.
type Message struct {
	CycleID     string    `json:"cycleId"`
	Network     string    `json:"network"`
	ChainID     int64     `json:"chainId"`
	Sequence    int       `json:"sequence"`
	Status      string    `json:"status"`
	FeedIDs     []string  `json:"feedIds"`
	ErrorClass  string    `json:"errorClass,omitempty"`
	Error       string    `json:"error,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	GasUsed     uint64    `json:"gasUsed,omitempty"`
	FeeWei      string    `json:"feeWei,omitempty"`
	FeeNative   string    `json:"feeNative,omitempty"`
	FeeUSD      string    `json:"feeUsd,omitempty"`
	Attempts    int       `json:"attempts"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// NewMessage converts an outcome to its published form.
func NewMessage(o entity.SubmissionOutcome) Message {
	m := Message{
		CycleID:    o.CycleID,
		Network:    o.Network,
		ChainID:    o.ChainID,
		Sequence:   o.Sequence,
		Status:     o.Status(),
		FeedIDs:    o.FeedIDs,
		ErrorClass: string(o.ErrorClass),
		Error:      o.ErrorMessage(),
		Attempts:   o.Attempts,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
	if o.Success {
		m.TxHash = o.TxHash.Hex()
		m.BlockNumber = o.BlockNumber
		m.GasUsed = o.GasUsed
		m.FeeNative = o.FeeNative.String()
		if o.FeeWei != nil {
			m.FeeWei = o.FeeWei.String()
		}
		if o.FeeUSD != nil {
			m.FeeUSD = o.FeeUSD.String()
		}
	}
	return m
}

// Publish publishes an outcome to SNS.
func (s *OutcomeSink) Publish(ctx context.Context, outcome entity.SubmissionOutcome) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errors.New("outcome sink is closed")
	}
	s.mu.RUnlock()

	body, err := json.Marshal(NewMessage(outcome))
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	attributes := map[string]types.MessageAttributeValue{
		"network": {
			DataType:    aws.String("String"),
			StringValue: aws.String(outcome.Network),
		},
		"status": {
			DataType:    aws.String("String"),
			StringValue: aws.String(outcome.Status()),
		},
		"chainId": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.FormatInt(outcome.ChainID, 10)),
		},
	}
	if outcome.ErrorClass != entity.ErrorClassNone {
		attributes["errorClass"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(string(outcome.ErrorClass)),
		}
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(s.config.TopicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: attributes,
	}
	if s.fifo {
		input.MessageGroupId = aws.String(outcome.Network)
		input.MessageDeduplicationId = aws.String(fmt.Sprintf("%s-%s-%d", outcome.CycleID, outcome.Network, outcome.Sequence))
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"maxRetries", s.config.MaxRetries,
			"backoff", backoff,
			"error", err,
			"network", outcome.Network,
			"sequence", outcome.Sequence)
	}

	err = retry.DoVoid(ctx, retry.Config{
		MaxRetries:     s.config.MaxRetries,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  s.config.BackoffFactor,
	}, isRetryableError, onRetry, func() error {
		_, err := s.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// isRetryableError determines if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Configuration problems will not fix themselves.
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var authErr *types.AuthorizationErrorException
	if errors.As(err, &authErr) {
		return false
	}
	var invalidParam *types.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return false
	}

	// Throttling, internal errors and network issues are transient.
	return true
}

// Close marks the sink as closed and prevents further publishing.
func (s *OutcomeSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.logger.Info("SNS outcome sink closed")
	})
	return nil
}
