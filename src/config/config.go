package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/learner"
	"github.com/mosaicnetworks/ursula/src/node"
	"github.com/mosaicnetworks/ursula/src/policy"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultConfigFile is the name of the optional configuration file, without
	// its extension.
	DefaultConfigFile = "ursula"
)

// Default configuration values.
const (
	DefaultLogLevel            = "debug"
	DefaultBindAddr            = "127.0.0.1:9151"
	DefaultServiceAddr         = "127.0.0.1:9152"
	DefaultTCPTimeout          = 1000 * time.Millisecond
	DefaultCacheSize           = 10000
	DefaultMaxPool             = 2
	DefaultStore               = false
	DefaultHeartbeat           = learner.DefaultHeartbeat
	DefaultSampleSize          = learner.DefaultSampleSize
	DefaultMaxConcurrency      = learner.DefaultMaxConcurrency
	DefaultRequestTimeout      = learner.DefaultRequestTimeout
	DefaultMaxNodesPerResponse = learner.DefaultMaxNodesPerResponse
	DefaultMaxArrangements     = node.DefaultMaxArrangements
	DefaultRateLimit           = node.DefaultRateLimit
	DefaultRateBurst           = node.DefaultRateBurst
	DefaultOverSampling        = policy.DefaultOverSampling
	DefaultParallelism         = policy.DefaultParallelism
	DefaultReplicationFactor   = policy.DefaultReplicationFactor
	DefaultProposalTimeout     = policy.DefaultProposalTimeout
)

// Config contains all the configuration properties of an Ursula node.
type Config struct {
	// DataDir is the top-level directory containing the configuration and
	// data of the node
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, is a file to which the log output is copied.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node listens to other
	// nodes, owners and recipients.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes. It is the address published in the node's metadata.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// Store activates persistant storage of known nodes, key fragments and
	// treasure maps.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of items in in-memory caches.
	CacheSize int `mapstructure:"cache-size"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Heartbeat is the minimum interval between learning rounds.
	Heartbeat time.Duration `mapstructure:"heartbeat"`

	// SampleSize is the number of peers asked for known nodes per round.
	SampleSize int `mapstructure:"sample-size"`

	// MaxConcurrency is the number of peers asked at the same time.
	MaxConcurrency int `mapstructure:"max-concurrency"`

	// RequestTimeout bounds each known-nodes request.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// MaxNodesPerResponse caps the records taught and learned per request.
	MaxNodesPerResponse int `mapstructure:"max-nodes"`

	// MaxArrangements is the number of key fragments this node agrees to hold.
	MaxArrangements int `mapstructure:"max-arrangements"`

	// RateLimit is the number of requests per second the node serves, with
	// bursts of RateBurst.
	RateLimit float64 `mapstructure:"rate-limit"`
	RateBurst int     `mapstructure:"rate-burst"`

	// OverSampling, Parallelism, ReplicationFactor and ProposalTimeout are
	// used when this process grants policies.
	OverSampling      float64       `mapstructure:"over-sampling"`
	Parallelism       int           `mapstructure:"parallelism"`
	ReplicationFactor int           `mapstructure:"replication"`
	ProposalTimeout   time.Duration `mapstructure:"proposal-timeout"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:             DefaultDataDir(),
		LogLevel:            DefaultLogLevel,
		BindAddr:            DefaultBindAddr,
		ServiceAddr:         DefaultServiceAddr,
		TCPTimeout:          DefaultTCPTimeout,
		CacheSize:           DefaultCacheSize,
		MaxPool:             DefaultMaxPool,
		Store:               DefaultStore,
		DatabaseDir:         DefaultDatabaseDir(),
		Heartbeat:           DefaultHeartbeat,
		SampleSize:          DefaultSampleSize,
		MaxConcurrency:      DefaultMaxConcurrency,
		RequestTimeout:      DefaultRequestTimeout,
		MaxNodesPerResponse: DefaultMaxNodesPerResponse,
		MaxArrangements:     DefaultMaxArrangements,
		RateLimit:           DefaultRateLimit,
		RateBurst:           DefaultRateBurst,
		OverSampling:        DefaultOverSampling,
		Parallelism:         DefaultParallelism,
		ReplicationFactor:   DefaultReplicationFactor,
		ProposalTimeout:     DefaultProposalTimeout,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not currently the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// LearnerConfig returns the parameters of the node's learner.
func (c *Config) LearnerConfig() *learner.Config {
	conf := learner.DefaultConfig()
	conf.Heartbeat = c.Heartbeat
	conf.SampleSize = c.SampleSize
	conf.MaxConcurrency = c.MaxConcurrency
	conf.RequestTimeout = c.RequestTimeout
	conf.MaxNodesPerResponse = c.MaxNodesPerResponse
	if c.CacheSize > 0 {
		conf.SeenCacheSize = c.CacheSize
	}
	conf.Logger = c.Logger()
	return conf
}

// NodeConfig returns the parameters of the node's server.
func (c *Config) NodeConfig() *node.Config {
	conf := node.NewConfig(c.Moniker, c.MaxArrangements, c.RateLimit, c.RateBurst, c.Logger())
	return conf
}

// GrantConfig returns the parameters used to grant policies.
func (c *Config) GrantConfig() *policy.GrantConfig {
	conf := policy.DefaultGrantConfig()
	conf.OverSampling = c.OverSampling
	conf.Parallelism = c.Parallelism
	conf.ReplicationFactor = c.ReplicationFactor
	conf.ProposalTimeout = c.ProposalTimeout
	conf.PublishTimeout = c.ProposalTimeout
	conf.Logger = c.Logger()
	return conf
}

// Logger returns a formatted logrus Entry, with prefix set to "ursula". When
// LogFile is set, the output is also written to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				lfshook.PathMap{
					logrus.DebugLevel: c.LogFile,
					logrus.InfoLevel:  c.LogFile,
					logrus.WarnLevel:  c.LogFile,
					logrus.ErrorLevel: c.LogFile,
					logrus.FatalLevel: c.LogFile,
					logrus.PanicLevel: c.LogFile,
				},
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "ursula")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level Ursula config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Ursula")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Ursula")
		} else {
			return filepath.Join(home, ".ursula")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
