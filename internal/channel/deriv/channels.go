package deriv

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

// Channels carries raw funding-rate and open-interest observations from the
// exchange readers to the derivatives processor.
type Channels struct {
	Raw chan models.RawDerivMessage

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw: make(chan models.RawDerivMessage, rawBufferSize),
		log: log,
	}

	log.WithComponent("deriv_channels").WithFields(logger.Fields{
		"raw_buffer_size": rawBufferSize,
	}).Info("derivatives channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	c.log.WithComponent("deriv_channels").Info("derivatives channels closed")
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
func (c *Channels) SendRaw(ctx context.Context, msg models.RawDerivMessage) bool {
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
