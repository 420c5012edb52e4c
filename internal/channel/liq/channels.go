package liq

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

// Channels carries raw liquidation payloads from the exchange readers to the
// liquidation processor. Sends never block: a full buffer drops the message
// and counts the drop, since a stalled processor must not back up a
// websocket read loop.
type Channels struct {
	Raw chan models.RawLiquidationMessage

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw: make(chan models.RawLiquidationMessage, rawBufferSize),
		log: log,
	}

	log.WithComponent("liq_channels").WithFields(logger.Fields{
		"raw_buffer_size": rawBufferSize,
	}).Info("liquidation channels initialized")

	return c
}

// Close closes the raw channel. Every producer must be stopped first.
func (c *Channels) Close() {
	close(c.Raw)
	c.log.WithComponent("liq_channels").Info("liquidation channels closed")
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

// SendRaw enqueues msg unless the buffer is full or ctx is cancelled, and
// reports whether the message was accepted. Callers own drop metric emission
// so the drop can be tagged with exchange and symbol.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawLiquidationMessage) bool {
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
