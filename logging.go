package hwcodec

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/status"
)

var (
	loggingOnce  sync.Once
	loggingLevel logrus.Level
)

// SetupLogging sets the process-wide log level and formatter. Only the
// first successful call takes effect: later calls change nothing and
// return the level applied by the first one. An unknown level is rejected
// without consuming that first call. New calls it with Config.LogLevel.
func SetupLogging(level string) (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return 0, fmt.Errorf("%w: log level %q", status.ErrInvalidArgument, level)
	}

	loggingOnce.Do(func() {
		loggingLevel = lvl
		logrus.SetLevel(lvl)
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logrus.WithFields(logrus.Fields{
			"function": "SetupLogging",
			"level":    lvl.String(),
		}).Debug("Logging configured")
	})
	return loggingLevel, nil
}
