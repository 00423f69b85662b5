package mongoback

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

type cleanupStep struct {
	name string
	fn   func() error
}

// CleanupList is an ordered list of teardown actions, executed in
// reverse of the order they were pushed (like deferred calls). Every
// step is attempted even if earlier ones failed; failures are collected
// and reported together instead of being discarded.
type CleanupList struct {
	steps []cleanupStep
}

// Push registers a cleanup action. Actions pushed later run first.
func (c *CleanupList) Push(name string, fn func() error) {
	c.steps = append(c.steps, cleanupStep{name: name, fn: fn})
}

// Run executes all registered actions and returns the collected errors.
func (c *CleanupList) Run(log *logrus.Entry) error {
	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		s := c.steps[i]
		log.Printf("cleanup: %s", s.name)
		if err := s.fn(); err != nil {
			log.Warnf("cleanup: %s: %v", s.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	c.steps = nil
	return errors.Join(errs...)
}

// Len reports the number of pending actions.
func (c *CleanupList) Len() int {
	return len(c.steps)
}
