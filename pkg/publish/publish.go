// Package publish pushes entity states to external systems.
package publish

import (
	"context"
	"errors"

	"github.com/raterudder/energycommunity/pkg/sensor"
)

// Sink receives every entity after each successful cycle.
type Sink interface {
	Name() string
	Publish(ctx context.Context, entities []sensor.Entity) error
	Close() error
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

// Name implements Sink.
func (m Multi) Name() string {
	return "multi"
}

// Publish implements Sink. A failing sink does not stop the others.
func (m Multi) Publish(ctx context.Context, entities []sensor.Entity) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, entities); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
