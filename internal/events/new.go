package events

import "go.uber.org/zap"

// New returns a Redis broker when redisURL is set and reachable, otherwise
// the in-memory broker.
func New(redisURL string, log *zap.Logger) Broker {
	if log == nil {
		log = zap.NewNop()
	}
	if redisURL == "" {
		return NewMemory()
	}
	rb, err := NewRedis(redisURL, log)
	if err != nil {
		log.Warn("redis broker unavailable, using memory broker", zap.Error(err))
		return NewMemory()
	}
	return rb
}
