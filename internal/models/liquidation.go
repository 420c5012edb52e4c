package models

import "time"

// Side identifies the direction of the liquidated position, not the direction
// of the forced order that closed it.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// RawLiquidationMessage represents a raw liquidation payload captured from an
// exchange specific stream. It keeps the raw JSON payload together with
// metadata so the processor can route it to the right normalizer.
type RawLiquidationMessage struct {
	Exchange  string
	Symbol    string
	Market    string
	Data      []byte
	Timestamp time.Time
}

// LiquidationEvent is the single normalized shape the detection core consumes.
// Exchange specific adapters produce it; the engine owns it transiently and
// never mutates it.
type LiquidationEvent struct {
	Symbol    string
	Exchange  string
	Side      Side
	SizeUSD   float64
	Price     float64
	Timestamp time.Time
}
