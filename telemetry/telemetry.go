// Package telemetry provides drivetrain.TelemetrySink implementations: the
// module log, an MQTT publisher and a WebSocket broadcast hub. Network sinks
// are given to a drivetrain through Async.
package telemetry

import (
	"io"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"mecanum/drivetrain"
)

// LogSink writes every progress record to a logger at debug level.
type LogSink struct {
	Logger logging.Logger
}

func (s LogSink) Report(p drivetrain.Progress) error {
	kv := []interface{}{"phase", p.Phase, "iteration", p.Iteration, "elapsed", p.Elapsed}
	for _, line := range p.Lines() {
		kv = append(kv, line[0], line[1])
	}
	s.Logger.Debugw("progress", kv...)
	return nil
}

// Multi fans a record out to every sink. All sinks are tried.
type Multi []drivetrain.TelemetrySink

func (m Multi) Report(p drivetrain.Progress) error {
	var err error
	for _, s := range m {
		err = multierr.Combine(err, s.Report(p))
	}
	return err
}

// Close closes every sink that can be closed.
func (m Multi) Close() error {
	var err error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			err = multierr.Combine(err, c.Close())
		}
	}
	return err
}
