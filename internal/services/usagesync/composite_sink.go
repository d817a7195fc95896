package usagesync

import (
	"context"
	"errors"
)

// CompositeSink fans out notifications to multiple sinks.
type CompositeSink struct {
	sinks []AlertSink
}

func NewCompositeSink(sinks ...AlertSink) AlertSink {
	filtered := make([]AlertSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		filtered = append(filtered, sink)
	}
	if len(filtered) == 0 {
		return nil
	}
	return &CompositeSink{sinks: filtered}
}

func (c *CompositeSink) Notify(ctx context.Context, alert SyncAlert) error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, sink := range c.sinks {
		if err := sink.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
