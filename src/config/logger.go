package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	logRotateThresholdKB = 10 * 1024
	logMaxRolls          = 3
)

// InitLog sets the logrus level and, unless disabled, tees the output into
// a rotated log file. The returned closer flushes the rotator.
func InitLog(cfg *Config) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %s", cfg.LogLevel)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if cfg.NoLogFile {
		log.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}

	logFile := cfg.LogFile()
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}
	r, err := rotator.New(logFile, logRotateThresholdKB, false, logMaxRolls)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file rotator")
	}

	log.SetOutput(io.MultiWriter(os.Stdout, r))
	return r, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
