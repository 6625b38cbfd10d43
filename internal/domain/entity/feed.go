package entity

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FeedIDLength is the byte length of a price feed identifier.
const FeedIDLength = 32

// PriceFeed is a tracked off-chain price stream and the networks it is
// published to. Immutable after load.
type PriceFeed struct {
	ID                 string
	Symbol             string
	DeviationThreshold decimal.Decimal // fraction, 0.005 = 0.5%
	HeartbeatInterval  time.Duration
	Networks           []string
}

// NewPriceFeed creates a PriceFeed with a normalized id and validated fields.
func NewPriceFeed(id, symbol string, threshold decimal.Decimal, heartbeat time.Duration, networks []string) (*PriceFeed, error) {
	normalized, err := NormalizeFeedID(id)
	if err != nil {
		return nil, err
	}
	f := &PriceFeed{
		ID:                 normalized,
		Symbol:             symbol,
		DeviationThreshold: threshold,
		HeartbeatInterval:  heartbeat,
		Networks:           append([]string(nil), networks...),
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *PriceFeed) validate() error {
	if f.DeviationThreshold.IsNegative() {
		return fmt.Errorf("feed %s: deviation threshold must be non-negative, got %s", f.label(), f.DeviationThreshold)
	}
	if f.HeartbeatInterval <= 0 {
		return fmt.Errorf("feed %s: heartbeat interval must be positive, got %s", f.label(), f.HeartbeatInterval)
	}
	if len(f.Networks) == 0 {
		return fmt.Errorf("feed %s: at least one network is required", f.label())
	}
	return nil
}

// TargetsNetwork reports whether the feed is published to the named network.
func (f *PriceFeed) TargetsNetwork(name string) bool {
	for _, n := range f.Networks {
		if n == name {
			return true
		}
	}
	return false
}

func (f *PriceFeed) label() string {
	if f.Symbol != "" {
		return f.Symbol
	}
	return f.ID
}

// NormalizeFeedID returns the lowercase hex form of a feed id without the
// 0x prefix. The id must decode to exactly 32 bytes.
func NormalizeFeedID(id string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(id))
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid feed id %q: %w", id, err)
	}
	if len(b) != FeedIDLength {
		return "", fmt.Errorf("invalid feed id %q: expected %d bytes, got %d", id, FeedIDLength, len(b))
	}
	return s, nil
}

// FeedIDBytes decodes a normalized feed id into its fixed-size form.
func FeedIDBytes(id string) ([FeedIDLength]byte, error) {
	var out [FeedIDLength]byte
	normalized, err := NormalizeFeedID(id)
	if err != nil {
		return out, err
	}
	b, _ := hex.DecodeString(normalized)
	copy(out[:], b)
	return out, nil
}
