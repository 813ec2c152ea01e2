package config

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Store holds the live configuration behind an atomic pointer. Readers call
// Current per use and never cache the result, which is what lets a reload
// take effect for the next connection.
type Store struct {
	path string
	log  *logrus.Entry
	cur  atomic.Pointer[Config]
}

// NewStore loads the configuration at path and keeps it reloadable. An
// empty path means defaults plus environment only.
func NewStore(path string, log *logrus.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path: path,
		log:  log.WithField("component", "config"),
	}
	s.cur.Store(cfg)
	return s, nil
}

// Current returns the live configuration. The returned value must be
// treated as read-only.
func (s *Store) Current() *Config {
	return s.cur.Load()
}

// Path returns the config file path, empty when running on defaults.
func (s *Store) Path() string { return s.path }

// Reload re-reads the file and swaps the live configuration. A file that no
// longer parses or validates leaves the previous configuration in place.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		s.log.WithError(err).Warn("config reload failed, keeping previous configuration")
		return err
	}

	s.cur.Store(cfg)
	s.log.Info("configuration reloaded")
	return nil
}
