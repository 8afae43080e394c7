package domain

import "context"

// ProviderSyncAPI is the snapshot source of a provider.
type ProviderSyncAPI interface {
	OrderBookSnapshot(ctx context.Context, market string) (*Snapshot, error)
}

type FrameHandler func(frame *Frame)

type ProviderStreamAPI interface {
	// Run subscribes to the markets and feeds every decoded frame to handler until ctx is done.
	Run(ctx context.Context, markets []string, handler FrameHandler) error
}

// Decoder turns one raw feed message into a frame. A nil frame with a nil error
// means the message is ignored (heartbeat, ticker, chat).
type Decoder interface {
	Decode(raw []byte) (*Frame, error)
}
