package config

import "time"

const (
	// WebSocket
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	FrameEnvelope  = 1024
	MaxFrameSize   = 6*DefaultMaxMessageLen + FrameEnvelope
	ClientSendSize = 256

	// Sessions
	DefaultIdleTimeout   = 15 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	MatcherTick          = 500 * time.Millisecond

	// Messages
	DefaultMaxMessageLen = 4000

	// Redis keys and channels
	DeliveryChannel = "support:deliveries"
	PresenceKey     = "support:presence"
	WaitQueueKey    = "support:wait_queue"

	// Tokens
	TokenIssuer = "support-identity"
	DevTokenTTL = 72 * time.Hour
)

// ReadLimit is the largest inbound frame accepted for messages capped at
// maxMessageLen runes. JSON may spell a rune as a six-byte \uXXXX escape.
func ReadLimit(maxMessageLen int) int64 {
	if maxMessageLen <= 0 {
		return MaxFrameSize
	}
	return max(MaxFrameSize, int64(6*maxMessageLen+FrameEnvelope))
}
