package config

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger builds a logger writing to w. With format "auto" the text
// formatter is used when w is a terminal and JSON otherwise.
func (c *Config) Logger(w io.Writer, terminal bool) (*logrus.Logger, error) {
	level, err := c.LogLevel()
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)

	text := terminal
	switch c.Log.Format {
	case "text":
		text = true
	case "json":
		text = false
	}
	if text {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: terminal})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}
