package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AppEnv selects how qtest formats its log output.
type AppEnv string

const (
	// DevelopEnv logs text with full timestamps and the calling function.
	DevelopEnv AppEnv = "develop"
	// LocalEnv logs plain text.
	LocalEnv AppEnv = "local"
	// TestEnv logs JSON so that trace runs can be collected by tooling.
	TestEnv AppEnv = "test"
)

const (
	DefaultBufferLength = 1024
	DefaultSeed         = 1
)

type (
	// Config is the qtest configuration.
	Config struct {
		AppEnv   AppEnv
		LogLevel logrus.Level
		Harness  Harness
	}

	// Harness holds the settings of the command interpreter.
	Harness struct {
		// FailPercent is the chance in percent that a queue reservation fails.
		FailPercent int
		// Seed drives the allocation failure sequence.
		Seed uint64
		// BufferLength is the size of the buffer handed to RemoveHead.
		BufferLength int
		// Script is a command file; empty means standard input.
		Script string
	}
)

// Load reads QTEST_* environment variables on top of the defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:   LocalEnv,
		LogLevel: logrus.InfoLevel,
		Harness: Harness{
			Seed:         DefaultSeed,
			BufferLength: DefaultBufferLength,
		},
	}

	if v, ok := os.LookupEnv("QTEST_APP_ENV"); ok {
		cfg.AppEnv = AppEnv(v)
	}

	if v, ok := os.LookupEnv("QTEST_LOG_LEVEL"); ok {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return nil, errors.Wrap(err, "config : invalid QTEST_LOG_LEVEL")
		}
		cfg.LogLevel = level
	}

	if v, ok := os.LookupEnv("QTEST_FAIL_PERCENT"); ok {
		percent, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "config : invalid QTEST_FAIL_PERCENT")
		}
		cfg.Harness.FailPercent = percent
	}

	if v, ok := os.LookupEnv("QTEST_SEED"); ok {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "config : invalid QTEST_SEED")
		}
		cfg.Harness.Seed = seed
	}

	if v, ok := os.LookupEnv("QTEST_BUFFER_LENGTH"); ok {
		length, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "config : invalid QTEST_BUFFER_LENGTH")
		}
		cfg.Harness.BufferLength = length
	}

	if v, ok := os.LookupEnv("QTEST_SCRIPT"); ok {
		cfg.Harness.Script = v
	}

	return cfg, cfg.Validate()
}

// Validate checks that the environment and harness settings are usable.
func (c *Config) Validate() error {
	switch c.AppEnv {
	case DevelopEnv, LocalEnv, TestEnv:
	default:
		return errors.Errorf("config : unknown app env %q", c.AppEnv)
	}
	if c.Harness.FailPercent < 0 || c.Harness.FailPercent > 100 {
		return errors.Errorf("config : fail percent %d out of range [0, 100]", c.Harness.FailPercent)
	}
	if c.Harness.BufferLength < 1 {
		return errors.Errorf("config : buffer length %d must be positive", c.Harness.BufferLength)
	}
	return nil
}
