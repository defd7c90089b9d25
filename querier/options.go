package querier

import "log/slog"

// Option is a functional option for configuring a Querier.
type Option func(*Querier)

// WithLogger overrides the Querier's default slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Querier) { q.log = l }
}
