package domain

import (
	"fmt"
	"strings"
	"time"
)

// Step represents the phase a population run is currently in.
type Step string

const (
	StepIdle              Step = "idle"
	StepFetchingOwners    Step = "fetching_owners"
	StepFilteringOwners   Step = "filtering_owners"
	StepBuildingTokenMap  Step = "building_token_map"
	StepFetchingTiers     Step = "fetching_tiers"
	StepFetchingRewards   Step = "fetching_rewards"
	StepProcessingHolders Step = "processing_holders"
	StepCompleted         Step = "completed"
	StepError             Step = "error"

	// StepFetchingEvents labels transfer-scan failures in the error log;
	// it is not a pipeline state.
	StepFetchingEvents Step = "fetching_events"
)

// Active reports whether the step is one where a population run is in flight.
func (s Step) Active() bool {
	switch s {
	case StepIdle, StepCompleted, StepError, "":
		return false
	}
	return true
}

// TierSpec describes one tier of a collection: a discrete token category
// conferring a reward multiplier.
type TierSpec struct {
	ID         uint8  `json:"id"`
	Name       string `json:"name"`
	Multiplier uint64 `json:"multiplier"`
}

// ContractDescriptor is the static, validated description of one tracked
// NFT contract. Loaded once at startup; immutable afterwards.
type ContractDescriptor struct {
	Key          string     `json:"key"`
	Address      string     `json:"address"`
	VaultAddress string     `json:"vault_address,omitempty"`
	BurnAddress  string     `json:"burn_address,omitempty"`
	Tiers        []TierSpec `json:"tiers"`
	PageSize     int        `json:"page_size"`
	DeployBlock  uint64     `json:"deploy_block"`
	Enabled      bool       `json:"enabled"`
}

// Burn returns the burn address for this contract, falling back to the
// conventional dead address.
func (d ContractDescriptor) Burn() string {
	if d.BurnAddress != "" {
		return strings.ToLower(d.BurnAddress)
	}
	return DefaultBurnAddress
}

// TierMultiplier returns the multiplier for a tier id, or 0 for unknown tiers.
func (d ContractDescriptor) TierMultiplier(id uint8) uint64 {
	for _, t := range d.Tiers {
		if t.ID == id {
			return t.Multiplier
		}
	}
	return 0
}

// Validate checks the descriptor for configuration errors. Called once at
// registry load; a failure here is fatal to startup.
func (d ContractDescriptor) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("contract descriptor missing key")
	}
	if !isHexAddress(d.Address) {
		return fmt.Errorf("contract %q: invalid address %q", d.Key, d.Address)
	}
	if d.VaultAddress != "" && !isHexAddress(d.VaultAddress) {
		return fmt.Errorf("contract %q: invalid vault address %q", d.Key, d.VaultAddress)
	}
	if len(d.Tiers) == 0 {
		return fmt.Errorf("contract %q: empty tier table", d.Key)
	}
	if d.PageSize <= 0 {
		return fmt.Errorf("contract %q: page size must be positive, got %d", d.Key, d.PageSize)
	}
	return nil
}

func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// TokenBalance is one token id held by an owner with its balance.
type TokenBalance struct {
	TokenID uint64 `json:"token_id"`
	Balance uint64 `json:"balance"`
}

// OwnerRecord is one wallet and the tokens it holds, as reported by the
// indexing service. Recomputed on every population run, never persisted.
type OwnerRecord struct {
	OwnerAddress  string         `json:"owner_address"`
	TokenBalances []TokenBalance `json:"token_balances"`
}

// LiveTokens returns the token ids with positive balance.
func (r OwnerRecord) LiveTokens() []uint64 {
	ids := make([]uint64, 0, len(r.TokenBalances))
	for _, tb := range r.TokenBalances {
		if tb.Balance > 0 {
			ids = append(ids, tb.TokenID)
		}
	}
	return ids
}

// TokenOwnerMap is the bidirectional token/owner mapping built once per
// population run. Every token id appears in exactly one owner's list.
type TokenOwnerMap struct {
	TokenOwner  map[uint64]string
	OwnerTokens map[string][]uint64
}

// HolderSummary is the aggregated cache-resident record for one wallet.
type HolderSummary struct {
	Wallet           string        `json:"wallet"`
	Total            int           `json:"total"`
	Tiers            map[uint8]int `json:"tiers"`
	MultiplierSum    uint64        `json:"multiplier_sum"`
	ClaimableRewards string        `json:"claimable_rewards"`
	Percentage       float64       `json:"percentage"`
	Rank             int           `json:"rank"`

	// Per-protocol extras; zero-valued for contracts without them.
	Shares         string `json:"shares,omitempty"`
	PendingDay8    string `json:"pending_day8,omitempty"`
	PendingDay28   string `json:"pending_day28,omitempty"`
	PendingDay90   string `json:"pending_day90,omitempty"`
	InfernoRewards string `json:"inferno_rewards,omitempty"`
	FluxRewards    string `json:"flux_rewards,omitempty"`
	E280Rewards    string `json:"e280_rewards,omitempty"`
}

// CacheEntry is the externally visible artifact of one successful
// population run: the full holder list plus collection totals.
type CacheEntry struct {
	Holders      []HolderSummary `json:"holders"`
	TotalMinted  uint64          `json:"total_minted"`
	TotalLive    uint64          `json:"total_live"`
	TotalBurned  uint64          `json:"total_burned"`
	TotalHolders int             `json:"total_holders"`
	TotalShares  string          `json:"total_shares,omitempty"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// ErrorEntry is one recorded failure inside a population run.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Step      `json:"phase"`
	Error     string    `json:"error"`
}

// EventSync mirrors the last processed block inside the progress record,
// kept for readers that predate the top-level field.
type EventSync struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
}

// ProgressState is the persisted, per-contract record of a population
// run's phase and counters. Mutated only by the populator; read by anyone.
type ProgressState struct {
	RunID              string       `json:"run_id,omitempty"`
	IsPopulating       bool         `json:"is_populating"`
	Step               Step         `json:"step"`
	TotalNFTs          int          `json:"total_nfts"`
	ProcessedNFTs      int          `json:"processed_nfts"`
	TotalTiers         int          `json:"total_tiers"`
	ProcessedTiers     int          `json:"processed_tiers"`
	TotalOwners        int          `json:"total_owners"`
	Error              *string      `json:"error"`
	ErrorLog           []ErrorEntry `json:"error_log,omitempty"`
	LastProcessedBlock uint64       `json:"last_processed_block"`
	EventSync          EventSync    `json:"event_sync"`
	LastUpdated        time.Time    `json:"last_updated"`
}

// Phase weights for progress reporting. They sum to 100; a phase's share is
// scaled by its internal counter where one exists.
const (
	weightOwners     = 15
	weightFiltering  = 5
	weightTokenMap   = 5
	weightTiers      = 35
	weightRewards    = 25
	weightProcessing = 15
)

// ProgressPercentage converts the current step and counters into a 0-100
// figure. Completed phases contribute their full weight; the tier and
// reward phases scale by their processed/total counters.
func (s ProgressState) ProgressPercentage() float64 {
	switch s.Step {
	case StepIdle, "":
		return 0
	case StepCompleted:
		return 100
	}

	done := 0.0
	fraction := func(processed, total int) float64 {
		if total <= 0 {
			return 0
		}
		f := float64(processed) / float64(total)
		if f > 1 {
			f = 1
		}
		return f
	}

	switch s.Step {
	case StepFetchingOwners:
		// No reliable counter while the upstream paginates.
	case StepFilteringOwners:
		done = weightOwners
	case StepBuildingTokenMap:
		done = weightOwners + weightFiltering
	case StepFetchingTiers:
		done = weightOwners + weightFiltering + weightTokenMap +
			weightTiers*fraction(s.ProcessedTiers, s.TotalTiers)
	case StepFetchingRewards:
		done = weightOwners + weightFiltering + weightTokenMap + weightTiers +
			weightRewards*fraction(s.ProcessedNFTs, s.TotalNFTs)
	case StepProcessingHolders:
		done = weightOwners + weightFiltering + weightTokenMap + weightTiers + weightRewards
	case StepError:
		// Report progress up to the failing phase; error is carried separately.
		done = 0
	}
	return done
}

// TransferClass classifies one Transfer event.
type TransferClass string

const (
	TransferBuy  TransferClass = "buy"
	TransferSell TransferClass = "sell"
	TransferBurn TransferClass = "burn"
)

// ClassifyTransfer maps a transfer's from/to pair onto buy (mint), burn, or
// sell. Addresses are compared case-insensitively.
func ClassifyTransfer(from, to, burnAddress string) TransferClass {
	if strings.EqualFold(from, ZeroAddress) {
		return TransferBuy
	}
	if strings.EqualFold(to, burnAddress) || strings.EqualFold(to, ZeroAddress) {
		return TransferBurn
	}
	return TransferSell
}
