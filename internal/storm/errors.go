package storm

import (
	"errors"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyActive is returned by Start while a storm is running.
	ErrAlreadyActive = errors.New("radiation storm is already active")
	// ErrNotActive is returned by Stop when no storm is running.
	ErrNotActive = errors.New("no active radiation storm")
	// ErrMissingParticipants is returned by New without a participant source.
	ErrMissingParticipants = errors.New("storm: participant source is required")
	// ErrMissingConfig is returned by New without a configuration.
	ErrMissingConfig = errors.New("storm: configuration is required")
)

// warnOnce logs each named condition at most once until reset. Degraded
// optional features report through it so repeating ticks do not flood the log.
type warnOnce struct {
	logger *zap.Logger
	seen   map[string]struct{}
}

func newWarnOnce(logger *zap.Logger) *warnOnce {
	return &warnOnce{logger: logger, seen: make(map[string]struct{})}
}

func (w *warnOnce) Warn(condition, msg string, fields ...zap.Field) {
	if _, ok := w.seen[condition]; ok {
		return
	}
	w.seen[condition] = struct{}{}
	w.logger.Warn(msg, append(fields, zap.String("condition", condition))...)
}

func (w *warnOnce) Reset() {
	w.seen = make(map[string]struct{})
}
