package profile

import (
	"context"
	"sync"

	"cascadeflow/internal/models"
	"cascadeflow/logger"
)

type ChannelStats struct {
	RawSent    int64
	RawDropped int64
}

// Channels carries 24h market statistics from the profile pollers to the
// profile processor. Traffic here is on the threshold review cadence, so the
// buffer stays small.
type Channels struct {
	Raw chan models.RawProfileMessage

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw: make(chan models.RawProfileMessage, rawBufferSize),
		log: log,
	}

	log.WithComponent("profile_channels").WithFields(logger.Fields{
		"raw_buffer_size": rawBufferSize,
	}).Info("profile channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	c.log.WithComponent("profile_channels").Info("profile channels closed")
}

func (c *Channels) incrementRawSent() {
	c.statsMutex.Lock()
	c.stats.RawSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementRawDropped() {
	c.statsMutex.Lock()
	c.stats.RawDropped++
	c.statsMutex.Unlock()
}

// SendRaw enqueues msg without blocking; a full buffer counts a drop.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawProfileMessage) bool {
	select {
	case c.Raw <- msg:
		c.incrementRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementRawDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
