package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

// PrivateKeyEnv names the environment variable holding the signing key.
const PrivateKeyEnv = "PRIVATE_KEY"

const redacted = "[REDACTED]"

// Signer holds the transaction signing key. It never renders the key in
// logs or formatted output.
type Signer struct {
	key *ecdsa.PrivateKey
}

// ParseSigner parses a hex private key, with or without 0x.
func ParseSigner(hexKey string) (Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return Signer{}, fmt.Errorf("%s is not set", PrivateKeyEnv)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		// The parse error may echo key material.
		return Signer{}, fmt.Errorf("%s is not a valid secp256k1 private key", PrivateKeyEnv)
	}
	return Signer{key: key}, nil
}

// Key returns the private key.
func (s Signer) Key() *ecdsa.PrivateKey {
	return s.key
}

// Address returns the signer's account address.
func (s Signer) Address() common.Address {
	if s.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s Signer) String() string {
	return redacted
}

func (s Signer) GoString() string {
	return redacted
}

// LogValue implements slog.LogValuer.
func (s Signer) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

func (s Signer) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Runtime is the validated configuration converted to domain types, plus
// the signing secret.
type Runtime struct {
	Config   *Config
	Feeds    []entity.PriceFeed
	Networks []*entity.NetworkTarget
	Signer   Signer `yaml:"-" json:"-"`
}

// NewRuntime converts a validated config and reads the signing key through
// lookup (os.LookupEnv in production).
func NewRuntime(cfg *Config, lookup func(string) (string, bool)) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	networks := make([]*entity.NetworkTarget, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		target, err := entity.NewNetworkTarget(n.Name, n.ChainID, n.RPCURL, n.OracleAddress, n.MaxFeedsPerBatch)
		if err != nil {
			return nil, err
		}
		if n.NativeFeedID != "" {
			target.NativeFeedID, err = entity.NormalizeFeedID(n.NativeFeedID)
			if err != nil {
				return nil, fmt.Errorf("network %s: %w", n.Name, err)
			}
		}
		target.BlockExplorer = n.BlockExplorer
		if n.MulticallAddress != "" {
			target.MulticallAddress = common.HexToAddress(n.MulticallAddress)
		}
		networks = append(networks, target)
	}

	feeds := make([]entity.PriceFeed, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		feed, err := entity.NewPriceFeed(f.ID, f.Symbol, decimal.NewFromFloat(f.DeviationThreshold), f.Heartbeat, f.Networks)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *feed)
	}

	raw, _ := lookup(PrivateKeyEnv)
	signer, err := ParseSigner(raw)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Config:   cfg,
		Feeds:    feeds,
		Networks: networks,
		Signer:   signer,
	}, nil
}
