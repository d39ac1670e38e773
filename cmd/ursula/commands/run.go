package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/ursula/src/config"
	"github.com/mosaicnetworks/ursula/src/ursula"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts an Ursula node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runUrsula,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runUrsula(cmd *cobra.Command, args []string) error {
	engine := ursula.NewUrsula(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().WithError(err).Error("Cannot initialize engine")
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		engine.Shutdown()
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Copy the log output to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for ursula node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for ursula node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in LRU caches")

	// Learning
	cmd.Flags().Duration("heartbeat", _config.Heartbeat, "Minimum time between learning rounds")
	cmd.Flags().Int("sample-size", _config.SampleSize, "Number of peers asked per learning round")
	cmd.Flags().Int("max-concurrency", _config.MaxConcurrency, "Number of peers asked at the same time")
	cmd.Flags().Duration("request-timeout", _config.RequestTimeout, "Timeout of known-nodes requests")
	cmd.Flags().Int("max-nodes", _config.MaxNodesPerResponse, "Max number of records per known-nodes response")

	// Arrangements
	cmd.Flags().Int("max-arrangements", _config.MaxArrangements, "Max number of key fragments held")
	cmd.Flags().Float64("rate-limit", _config.RateLimit, "Inbound requests per second, 0 for no limit")
	cmd.Flags().Int("rate-burst", _config.RateBurst, "Burst of inbound requests")

	// Granting
	cmd.Flags().Float64("over-sampling", _config.OverSampling, "Ratio of candidate proxies to n")
	cmd.Flags().Int("parallelism", _config.Parallelism, "Number of proposals in flight")
	cmd.Flags().Int("replication", _config.ReplicationFactor, "Number of proxies a treasure map is pushed to, 0 for all")
	cmd.Flags().Duration("proposal-timeout", _config.ProposalTimeout, "Timeout of arrangement proposals")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"ursula.DataDir":        _config.DataDir,
		"ursula.BindAddr":       _config.BindAddr,
		"ursula.AdvertiseAddr":  _config.AdvertiseAddr,
		"ursula.NoService":      _config.NoService,
		"ursula.ServiceAddr":    _config.ServiceAddr,
		"ursula.MaxPool":        _config.MaxPool,
		"ursula.Store":          _config.Store,
		"ursula.LogLevel":       _config.LogLevel,
		"ursula.Moniker":        _config.Moniker,
		"ursula.Heartbeat":      _config.Heartbeat,
		"ursula.TCPTimeout":     _config.TCPTimeout,
		"ursula.CacheSize":      _config.CacheSize,
		"ursula.SampleSize":     _config.SampleSize,
		"ursula.MaxArrangement": _config.MaxArrangements,
		"ursula.RateLimit":      _config.RateLimit,
	}

	if _config.Store {
		logFields["ursula.DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/ursula.toml (.json, .yaml also work)
	viper.SetConfigName(config.DefaultConfigFile) // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir)          // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
