// Package logging builds the service's logrus logger from configuration.
package logging

import (
	"github.com/sirupsen/logrus"
)

// New returns a logger at the given level with the given output format
// ("text" or "json"). Unknown values fall back to info/text rather than
// failing, since config validation has already rejected anything else on the
// normal path.
func New(level, format string) *logrus.Logger {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
