// Package config defines the configuration for an Ursula node.
//
// Regardless of how Ursula is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, Ursula relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key // a plain text file containing the raw private key (cf. ursula keygen).
//  teachers.json // (optional) a JSON file listing the network addresses of seed nodes.
//  ursula.toml // (optional) a configuration file read by the CLI.
package config
