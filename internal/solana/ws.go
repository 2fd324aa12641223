package solana

import "context"

// WSClient is the Solana WebSocket subscription surface. The position
// indexer subscribes per shares mint to trigger recomputes on activity.
type WSClient interface {
	// SubscribeLogs subscribes to ledger logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these addresses, typically
	// a shares mint or the marketplace program.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
