// Package populator runs the holder-cache population pipeline: enumerate
// owners, read tiers and rewards on chain, scan transfer history, and
// atomically replace the cached holder list when everything checks out.
package populator

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/cache"
	"github.com/titanx-dash/holder-api/internal/chain"
	"github.com/titanx-dash/holder-api/internal/domain"
	"github.com/titanx-dash/holder-api/internal/logger"
	"github.com/titanx-dash/holder-api/internal/registry"
)

// OwnerEnumerator fetches the full owner set for a contract.
type OwnerEnumerator interface {
	FetchOwners(ctx context.Context, contractAddress string) ([]domain.OwnerRecord, error)
}

// ContractCaller executes batched read-only contract calls.
type ContractCaller interface {
	BatchCall(ctx context.Context, calls []chain.Call) []chain.Result
}

// TransferFetcher scans transfer history over a block range.
type TransferFetcher interface {
	GetNewEvents(ctx context.Context, q chain.EventQuery) (chain.EventSummary, error)
}

// TriggerStatus is the outcome of a population trigger request.
type TriggerStatus string

const (
	StatusStarted    TriggerStatus = "started"
	StatusInProgress TriggerStatus = "in_progress"
	StatusUpToDate   TriggerStatus = "up_to_date"
)

// Config bounds the populator's behavior.
type Config struct {
	StaleAfter time.Duration // cache younger than this is not re-populated
}

// Populator drives population runs. At most one run per contract is in
// flight at any time.
type Populator struct {
	registry *registry.Registry
	owners   OwnerEnumerator
	caller   ContractCaller
	events   TransferFetcher
	eth      adapter.EthClient
	store    *cache.Store
	state    *cache.StateTracker
	clock    adapter.Clock
	cfg      Config

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates a populator.
func New(
	reg *registry.Registry,
	owners OwnerEnumerator,
	caller ContractCaller,
	events TransferFetcher,
	eth adapter.EthClient,
	store *cache.Store,
	state *cache.StateTracker,
	clock adapter.Clock,
	cfg Config,
) *Populator {
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &Populator{
		registry: reg,
		owners:   owners,
		caller:   caller,
		events:   events,
		eth:      eth,
		store:    store,
		state:    state,
		clock:    clock,
		cfg:      cfg,
		inflight: make(map[string]bool),
	}
}

func (p *Populator) tryAcquire(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[key] {
		return false
	}
	p.inflight[key] = true
	return true
}

func (p *Populator) release(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

// TriggerAsync starts a population run in the background unless one is
// already running or the cache is still fresh. A forced trigger skips the
// freshness check but still yields to an in-flight run. The run detaches
// from the caller's context so an HTTP disconnect cannot abort it.
func (p *Populator) TriggerAsync(ctx context.Context, contractKey string, force bool) (TriggerStatus, error) {
	desc, err := p.registry.Get(contractKey)
	if err != nil {
		return "", err
	}

	if !p.tryAcquire(desc.Key) {
		return StatusInProgress, nil
	}

	if !force {
		var entry domain.CacheEntry
		found, err := p.store.Get(ctx, cache.PrefixHolders, desc.Key, &entry)
		if err == nil && found && p.clock.Since(entry.LastUpdated) < p.cfg.StaleAfter {
			p.release(desc.Key)
			return StatusUpToDate, nil
		}
	}

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer p.release(desc.Key)
		if err := p.populate(runCtx, desc); err != nil {
			logger.ErrorCtx(runCtx, err, zap.String("contract", desc.Key))
		}
	}()
	return StatusStarted, nil
}

// Refresh runs a population synchronously, bypassing the freshness
// check. Returns nil without running when a run is already in flight.
func (p *Populator) Refresh(ctx context.Context, contractKey string) error {
	desc, err := p.registry.Get(contractKey)
	if err != nil {
		return err
	}
	if !p.tryAcquire(desc.Key) {
		return nil
	}
	defer p.release(desc.Key)
	return p.populate(ctx, desc)
}

// ResetInterrupted marks any progress record left mid-run by a previous
// process as failed. Called once at startup.
func (p *Populator) ResetInterrupted(ctx context.Context) {
	for _, desc := range p.registry.All() {
		state := p.state.LoadState(ctx, desc.Key)
		if !state.IsPopulating {
			continue
		}
		msg := "population interrupted by restart"
		interrupted := state.Step
		state.IsPopulating = false
		state.Step = domain.StepError
		state.Error = &msg
		state.ErrorLog = append(state.ErrorLog, domain.ErrorEntry{
			Timestamp: p.clock.Now(),
			Phase:     interrupted,
			Error:     msg,
		})
		if err := p.state.SaveState(ctx, desc.Key, state); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("contract", desc.Key),
				zap.String("action", "reset interrupted run"))
		}
	}
}

// run carries one population's mutable state.
type run struct {
	desc  domain.ContractDescriptor
	state domain.ProgressState
}

func (p *Populator) populate(ctx context.Context, desc domain.ContractDescriptor) error {
	r := &run{desc: desc, state: p.state.LoadState(ctx, desc.Key)}
	r.state.RunID = ulid.MustNew(ulid.Timestamp(p.clock.Now()), rand.New(rand.NewSource(p.clock.Now().UnixNano()))).String()
	r.state.IsPopulating = true
	r.state.Error = nil
	r.state.ErrorLog = nil
	r.state.TotalNFTs = 0
	r.state.ProcessedNFTs = 0
	r.state.TotalTiers = 0
	r.state.ProcessedTiers = 0
	r.state.TotalOwners = 0

	start := p.clock.Now()
	logger.InfoCtx(ctx, "population run starting",
		zap.String("contract", desc.Key), zap.String("run_id", r.state.RunID))

	// Phase 1: owner enumeration.
	p.advance(ctx, r, domain.StepFetchingOwners)
	owners, err := p.owners.FetchOwners(ctx, desc.Address)
	if err != nil {
		return p.fail(ctx, r, domain.StepFetchingOwners, err)
	}
	r.state.TotalOwners = len(owners)

	// Phase 2: drop zero/burn wallets and empty owners.
	p.advance(ctx, r, domain.StepFilteringOwners)
	owners = FilterOwners(owners, desc.Burn())

	// Phase 3: bidirectional token map.
	p.advance(ctx, r, domain.StepBuildingTokenMap)
	tokenMap, conflicts := BuildTokenOwnerMap(owners)
	for _, c := range conflicts {
		p.record(r, domain.StepBuildingTokenMap, c)
	}
	r.state.TotalNFTs = len(tokenMap.TokenOwner)
	r.state.TotalTiers = len(tokenMap.TokenOwner)

	// Phase 4: per-token tier reads.
	p.advance(ctx, r, domain.StepFetchingTiers)
	tiers := p.fetchTiers(ctx, r, tokenMap)

	// Phase 5: per-wallet reward reads.
	p.advance(ctx, r, domain.StepFetchingRewards)
	rewards := p.fetchRewards(ctx, r, tokenMap)

	// Phase 6: fold everything into the ranked holder list.
	p.advance(ctx, r, domain.StepProcessingHolders)

	summary, prevEntry := p.scanTransfers(ctx, r)

	holders := AggregateHolders(desc, tokenMap, tiers, rewards)
	live := uint64(len(tokenMap.TokenOwner))
	if err := ValidateHolders(holders, live); err != nil {
		return p.fail(ctx, r, domain.StepProcessingHolders, err)
	}

	entry := domain.CacheEntry{
		Holders:      holders,
		TotalMinted:  prevEntry.TotalMinted + summary.Buys,
		TotalLive:    live,
		TotalBurned:  prevEntry.TotalBurned + summary.Burns,
		TotalHolders: len(holders),
		LastUpdated:  p.clock.Now(),
	}
	if err := p.store.Set(ctx, cache.PrefixHolders, desc.Key, entry); err != nil {
		return p.fail(ctx, r, domain.StepProcessingHolders, err)
	}

	r.state.IsPopulating = false
	r.state.Step = domain.StepCompleted
	p.save(ctx, r)

	logger.InfoCtx(ctx, "population run completed",
		zap.String("contract", desc.Key),
		zap.String("run_id", r.state.RunID),
		zap.Int("holders", len(holders)),
		zap.Uint64("live", live),
		zap.Duration("elapsed", p.clock.Since(start)))
	return nil
}

// fetchTiers reads every live token's tier in registry-sized pages. A
// failed read defaults the token to tier 0 and is recorded; the run
// continues.
func (p *Populator) fetchTiers(ctx context.Context, r *run, tokenMap domain.TokenOwnerMap) map[uint64]uint8 {
	tokens := make([]uint64, 0, len(tokenMap.TokenOwner))
	for tokenID := range tokenMap.TokenOwner {
		tokens = append(tokens, tokenID)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	target := common.HexToAddress(r.desc.Address)
	tiers := make(map[uint64]uint8, len(tokens))

	for offset := 0; offset < len(tokens); offset += r.desc.PageSize {
		page := tokens[offset:min(offset+r.desc.PageSize, len(tokens))]

		calls := make([]chain.Call, 0, len(page))
		packed := make([]uint64, 0, len(page))
		for _, tokenID := range page {
			data, err := chain.PackTierCall(tokenID)
			if err != nil {
				p.record(r, domain.StepFetchingTiers, fmt.Sprintf("token %d: %v", tokenID, err))
				tiers[tokenID] = 0
				continue
			}
			calls = append(calls, chain.Call{Target: target, CallData: data})
			packed = append(packed, tokenID)
		}

		results := p.caller.BatchCall(ctx, calls)
		for i, res := range results {
			tokenID := packed[i]
			if !res.Success {
				p.record(r, domain.StepFetchingTiers,
					fmt.Sprintf("token %d tier read failed: %v", tokenID, res.Err))
				tiers[tokenID] = 0
				continue
			}
			tier, err := chain.DecodeTier(res.ReturnData)
			if err != nil {
				p.record(r, domain.StepFetchingTiers,
					fmt.Sprintf("token %d tier decode failed: %v", tokenID, err))
				tier = 0
			}
			tiers[tokenID] = tier
		}

		r.state.ProcessedTiers += len(page)
		p.save(ctx, r)
	}
	return tiers
}

// fetchRewards reads claimable rewards per wallet against the vault, one
// call covering all of the wallet's tokens. Contracts without a vault
// skip the phase.
func (p *Populator) fetchRewards(ctx context.Context, r *run, tokenMap domain.TokenOwnerMap) map[string]*big.Int {
	rewards := make(map[string]*big.Int, len(tokenMap.OwnerTokens))
	if r.desc.VaultAddress == "" {
		r.state.ProcessedNFTs = r.state.TotalNFTs
		p.save(ctx, r)
		return rewards
	}

	wallets := make([]string, 0, len(tokenMap.OwnerTokens))
	for wallet := range tokenMap.OwnerTokens {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)

	vault := common.HexToAddress(r.desc.VaultAddress)

	for offset := 0; offset < len(wallets); offset += r.desc.PageSize {
		page := wallets[offset:min(offset+r.desc.PageSize, len(wallets))]

		calls := make([]chain.Call, 0, len(page))
		packed := make([]string, 0, len(page))
		for _, wallet := range page {
			data, err := chain.PackRewardsCall(tokenMap.OwnerTokens[wallet])
			if err != nil {
				p.record(r, domain.StepFetchingRewards, fmt.Sprintf("wallet %s: %v", wallet, err))
				rewards[wallet] = big.NewInt(0)
				continue
			}
			calls = append(calls, chain.Call{Target: vault, CallData: data})
			packed = append(packed, wallet)
		}

		results := p.caller.BatchCall(ctx, calls)
		processed := 0
		for i, res := range results {
			wallet := packed[i]
			processed += len(tokenMap.OwnerTokens[wallet])
			if !res.Success {
				p.record(r, domain.StepFetchingRewards,
					fmt.Sprintf("wallet %s rewards read failed: %v", wallet, res.Err))
				rewards[wallet] = big.NewInt(0)
				continue
			}
			amount, err := chain.DecodeRewards(res.ReturnData)
			if err != nil {
				p.record(r, domain.StepFetchingRewards,
					fmt.Sprintf("wallet %s rewards decode failed: %v", wallet, err))
				amount = big.NewInt(0)
			}
			rewards[wallet] = amount
		}

		r.state.ProcessedNFTs += processed
		p.save(ctx, r)
	}
	return rewards
}

// scanTransfers advances the event cursor from the last processed block
// to the current head and returns the scan summary plus the previous
// cache entry for cumulative totals. Scan failures degrade to an empty
// summary; mint/burn totals then simply do not advance this run.
func (p *Populator) scanTransfers(ctx context.Context, r *run) (chain.EventSummary, domain.CacheEntry) {
	var prev domain.CacheEntry
	if _, err := p.store.Get(ctx, cache.PrefixHolders, r.desc.Key, &prev); err != nil {
		logger.WarnCtx(ctx, "previous cache entry unreadable, totals restart",
			zap.String("contract", r.desc.Key), zap.Error(err))
		prev = domain.CacheEntry{}
	}

	header, err := p.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		p.record(r, domain.StepFetchingEvents, fmt.Sprintf("head lookup failed: %v", err))
		return chain.EventSummary{LastBlock: r.state.LastProcessedBlock}, prev
	}
	head := header.Number.Uint64()

	fromBlock := r.state.LastProcessedBlock + 1
	if r.state.LastProcessedBlock == 0 {
		fromBlock = r.desc.DeployBlock
	}
	if fromBlock > head {
		return chain.EventSummary{LastBlock: r.state.LastProcessedBlock}, prev
	}

	summary, err := p.events.GetNewEvents(ctx, chain.EventQuery{
		Contract:    common.HexToAddress(r.desc.Address),
		BurnAddress: r.desc.Burn(),
		FromBlock:   fromBlock,
		ToBlock:     head,
	})
	if err != nil {
		p.record(r, domain.StepFetchingEvents, fmt.Sprintf("transfer scan failed: %v", err))
		return chain.EventSummary{LastBlock: r.state.LastProcessedBlock}, prev
	}

	r.state.ErrorLog = append(r.state.ErrorLog, summary.ErrorLog...)
	r.state.LastProcessedBlock = summary.LastBlock
	p.save(ctx, r)
	return summary, prev
}

func (p *Populator) advance(ctx context.Context, r *run, step domain.Step) {
	r.state.Step = step
	p.save(ctx, r)
	logger.Debug("population phase",
		zap.String("contract", r.desc.Key), zap.String("step", string(step)))
}

func (p *Populator) record(r *run, phase domain.Step, msg string) {
	r.state.ErrorLog = append(r.state.ErrorLog, domain.ErrorEntry{
		Timestamp: p.clock.Now(),
		Phase:     phase,
		Error:     msg,
	})
}

// fail marks the run failed. The holder cache is untouched so readers
// keep seeing the last good result.
func (p *Populator) fail(ctx context.Context, r *run, phase domain.Step, cause error) error {
	msg := cause.Error()
	p.record(r, phase, msg)
	r.state.IsPopulating = false
	r.state.Step = domain.StepError
	r.state.Error = &msg
	p.save(ctx, r)
	return fmt.Errorf("population of %s failed during %s: %w", r.desc.Key, phase, cause)
}

func (p *Populator) save(ctx context.Context, r *run) {
	if err := p.state.SaveState(ctx, r.desc.Key, r.state); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("contract", r.desc.Key),
			zap.String("action", "persist progress"))
	}
}
