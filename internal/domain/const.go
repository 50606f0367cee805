package domain

const (
	// ZeroAddress is the canonical Ethereum zero address. It is the mint
	// source in Transfer events and a degenerate owner that must never
	// appear in holder aggregates.
	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// DefaultBurnAddress is the conventional dead address tokens are sent
	// to when burned. Contracts may override it in their descriptor.
	DefaultBurnAddress = "0x000000000000000000000000000000000000dead"
)
