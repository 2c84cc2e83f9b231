package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
)

// NewLogger builds a logrus logger for the configured level and format.
// out is used unless a log file is configured.
func (c LogConfig) NewLogger(out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stderr
	}

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log.level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)

	switch c.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("config: log.format %q is not one of text, json", c.Format)
	}

	if c.File != "" {
		w, err := rotatingFile(c.File)
		if err != nil {
			return nil, err
		}
		logger.SetOutput(w)
	}
	return logger, nil
}

// rotatingFile opens path as a daily rotated log, linked from path itself
func rotatingFile(path string) (io.Writer, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("config: log.file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("config: log.file: %w", err)
	}

	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithRotationCount(10),
	)
	if err != nil {
		return nil, fmt.Errorf("config: log.file: %w", err)
	}
	return w, nil
}
