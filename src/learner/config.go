package learner

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Default values of the learning parameters.
const (
	DefaultSampleSize          = 8
	DefaultMaxConcurrency      = 4
	DefaultRequestTimeout      = 2 * time.Second
	DefaultMaxNodesPerResponse = 128
	DefaultHeartbeat           = 10 * time.Second
	DefaultSeenCacheSize       = 4096
)

// Config contains the parameters of a Learner.
type Config struct {
	// SampleSize is the number of peers contacted per round.
	SampleSize int

	// MaxConcurrency is the number of peer requests in flight per round.
	MaxConcurrency int

	// RequestTimeout bounds each peer request.
	RequestTimeout time.Duration

	// MaxNodesPerResponse caps the number of records served, and the number
	// of records accepted from a single response.
	MaxNodesPerResponse int

	// Heartbeat is the minimum interval between background rounds. The
	// actual interval is randomized between Heartbeat and twice Heartbeat.
	Heartbeat time.Duration

	// SeenCacheSize is the number of recently processed records remembered
	// to skip their verification.
	SeenCacheSize int

	Logger *logrus.Entry
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() *Config {
	return &Config{
		SampleSize:          DefaultSampleSize,
		MaxConcurrency:      DefaultMaxConcurrency,
		RequestTimeout:      DefaultRequestTimeout,
		MaxNodesPerResponse: DefaultMaxNodesPerResponse,
		Heartbeat:           DefaultHeartbeat,
		SeenCacheSize:       DefaultSeenCacheSize,
	}
}

// logger returns the configured logger or a default one.
func (c *Config) logger() *logrus.Entry {
	if c.Logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		c.Logger = logrus.NewEntry(log)
	}
	return c.Logger
}
