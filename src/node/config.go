package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/sirupsen/logrus"
)

// Default values of the node parameters.
const (
	DefaultMaxArrangements  = 10000
	DefaultRateLimit        = 100
	DefaultRateBurst        = 200
	DefaultProposalCacheTTL = 10 * time.Minute
)

// Config contains the parameters of a Node.
type Config struct {
	// Moniker is the human readable name published in the node's metadata.
	Moniker string `mapstructure:"moniker"`

	// MaxArrangements is the number of key fragments the node agrees to hold.
	// Proposals beyond it are rejected with the "capacity" reason.
	MaxArrangements int `mapstructure:"max-arrangements"`

	// RateLimit is the number of inbound requests per second the node
	// answers, with bursts of up to RateBurst. 0 disables the limit.
	RateLimit float64 `mapstructure:"rate-limit"`
	RateBurst int     `mapstructure:"rate-burst"`

	// ProposalCacheTTL is how long answered proposals are remembered, so that
	// retries of the same proposal get the same answer.
	ProposalCacheTTL time.Duration `mapstructure:"proposal-cache-ttl"`

	Logger *logrus.Entry
}

// NewConfig creates a Config.
func NewConfig(moniker string,
	maxArrangements int,
	rateLimit float64,
	rateBurst int,
	logger *logrus.Entry) *Config {

	return &Config{
		Moniker:          moniker,
		MaxArrangements:  maxArrangements,
		RateLimit:        rateLimit,
		RateBurst:        rateBurst,
		ProposalCacheTTL: DefaultProposalCacheTTL,
		Logger:           logger,
	}
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		MaxArrangements:  DefaultMaxArrangements,
		RateLimit:        DefaultRateLimit,
		RateBurst:        DefaultRateBurst,
		ProposalCacheTTL: DefaultProposalCacheTTL,
		Logger:           logrus.NewEntry(logger),
	}
}

// TestConfig returns a default Config that logs through the test.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.Logger = common.NewTestEntry(t, common.TestLogLevel)
	return config
}
