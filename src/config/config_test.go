package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("/tmp/ursula")

	if conf.DatabaseDir != filepath.Join("/tmp/ursula", DefaultBadgerFile) {
		t.Fatalf("DatabaseDir should follow DataDir, not %s", conf.DatabaseDir)
	}
	if conf.Keyfile() != filepath.Join("/tmp/ursula", DefaultKeyfile) {
		t.Fatalf("Keyfile should be in DataDir, not %s", conf.Keyfile())
	}

	conf.DatabaseDir = "/elsewhere"
	conf.SetDataDir("/tmp/other")
	if conf.DatabaseDir != "/elsewhere" {
		t.Fatalf("explicit DatabaseDir should not change, got %s", conf.DatabaseDir)
	}
}

func TestComponentConfigs(t *testing.T) {
	conf := NewTestConfig(t, logrus.DebugLevel)
	conf.SampleSize = 3
	conf.MaxArrangements = 7
	conf.Moniker = "ursula"
	conf.ReplicationFactor = 5

	if lc := conf.LearnerConfig(); lc.SampleSize != 3 || lc.Logger == nil {
		t.Fatalf("learner config should carry the sample size and logger")
	}
	if nc := conf.NodeConfig(); nc.MaxArrangements != 7 || nc.Moniker != "ursula" {
		t.Fatalf("node config should carry max arrangements and moniker")
	}
	if gc := conf.GrantConfig(); gc.ReplicationFactor != 5 {
		t.Fatalf("grant config should carry the replication factor")
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"bogus": logrus.DebugLevel,
	}
	for s, l := range cases {
		if LogLevel(s) != l {
			t.Fatalf("LogLevel(%s) should be %v", s, l)
		}
	}
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ursula.log")

	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogFile = path

	logger := conf.Logger()
	logger.Info("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("log file should contain the message, got %q", string(data))
	}
}
