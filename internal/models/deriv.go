package models

import "time"

// DerivKind distinguishes the derivative market observations that share the
// deriv stream.
type DerivKind string

const (
	DerivFunding      DerivKind = "funding"
	DerivOpenInterest DerivKind = "open_interest"
)

// RawDerivMessage holds a single funding-rate or open-interest observation
// from any exchange. Parsed metrics travel alongside the original payload so
// the processor can recover exchange quirks when a field is missing.
type RawDerivMessage struct {
	Exchange string
	Symbol   string
	Kind     DerivKind

	FundingRate     float64
	NextFundingTime time.Time

	// OpenInterest is expressed in exchange native units (contracts or
	// coins); OpenInterestUSD carries the notional when the feed provides it.
	OpenInterest    float64
	OpenInterestUSD float64
	MarkPrice       float64

	Source    string
	Timestamp time.Time
	Payload   []byte
}
