package node

import "log/slog"

// Option is a functional option for configuring a Node.
type Option func(*Node)

// WithLogger sets the slog.Logger threaded through the node's listener
// and querier.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.log = l }
}
