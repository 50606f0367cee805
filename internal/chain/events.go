package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/domain"
	"github.com/titanx-dash/holder-api/internal/logger"
)

var transferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EventQuery describes one transfer scan over a block range.
type EventQuery struct {
	Contract    common.Address
	BurnAddress string
	FromBlock   uint64
	ToBlock     uint64
}

// EventSummary is the outcome of one transfer scan. LastBlock is the end
// of the contiguous successfully processed prefix; the next scan resumes
// at LastBlock+1.
type EventSummary struct {
	Buys      uint64
	Sells     uint64
	Burns     uint64
	LastBlock uint64
	ErrorLog  []domain.ErrorEntry
}

// FetcherConfig bounds the transfer scan.
type FetcherConfig struct {
	RangeSize    uint64 // blocks per sub-range
	MinRangeSize uint64 // floor for adaptive halving
	Concurrency  int    // sub-ranges in flight at once
}

// EventFetcher scans Transfer logs in bounded sub-ranges, halving a
// sub-range's chunk size when the provider rejects it as too large.
type EventFetcher struct {
	eth   adapter.EthClient
	clock adapter.Clock
	cfg   FetcherConfig
}

// NewEventFetcher creates a transfer fetcher.
func NewEventFetcher(eth adapter.EthClient, clock adapter.Clock, cfg FetcherConfig) *EventFetcher {
	if cfg.RangeSize == 0 {
		cfg.RangeSize = 50_000
	}
	if cfg.MinRangeSize == 0 {
		cfg.MinRangeSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &EventFetcher{eth: eth, clock: clock, cfg: cfg}
}

type rangeResult struct {
	fromBlock uint64
	toBlock   uint64
	buys      uint64
	sells     uint64
	burns     uint64
	err       error
}

// GetNewEvents scans [FromBlock, ToBlock] for Transfer events and
// classifies each as buy (mint), sell, or burn. A failing sub-range is
// recorded in the error log and skipped; the rest of the scan proceeds.
func (f *EventFetcher) GetNewEvents(ctx context.Context, q EventQuery) (EventSummary, error) {
	// Nothing is processed yet, so the cursor starts just before FromBlock;
	// a failed leading sub-range must be rescanned, not skipped.
	summary := EventSummary{}
	if q.FromBlock > 0 {
		summary.LastBlock = q.FromBlock - 1
	}
	if q.FromBlock > q.ToBlock {
		summary.LastBlock = q.ToBlock
		return summary, nil
	}

	// Partition into fixed sub-ranges.
	var ranges []rangeResult
	for from := q.FromBlock; from <= q.ToBlock; from += f.cfg.RangeSize {
		to := from + f.cfg.RangeSize - 1
		if to > q.ToBlock {
			to = q.ToBlock
		}
		ranges = append(ranges, rangeResult{fromBlock: from, toBlock: to})
	}

	pool := pond.NewPool(f.cfg.Concurrency, pond.WithContext(ctx))
	group := pool.NewGroup()

	var mu sync.Mutex
	for i := range ranges {
		idx := i
		group.Submit(func() {
			r := f.fetchRange(ctx, q, ranges[idx].fromBlock, ranges[idx].toBlock)
			mu.Lock()
			ranges[idx] = r
			mu.Unlock()
		})
	}
	group.Wait()
	pool.StopAndWait()

	// Totals from every successful sub-range; LastBlock advances only over
	// the contiguous successful prefix so failed spans get rescanned.
	prefixIntact := true
	for _, r := range ranges {
		if r.err != nil {
			prefixIntact = false
			summary.ErrorLog = append(summary.ErrorLog, domain.ErrorEntry{
				Timestamp: f.clock.Now(),
				Phase:     domain.StepFetchingEvents,
				Error:     fmt.Sprintf("blocks %d-%d: %v", r.fromBlock, r.toBlock, r.err),
			})
			continue
		}
		summary.Buys += r.buys
		summary.Sells += r.sells
		summary.Burns += r.burns
		if prefixIntact {
			summary.LastBlock = r.toBlock
		}
	}

	return summary, nil
}

// fetchRange scans one sub-range, halving the chunk size whenever the
// provider reports an oversized response, down to the configured floor.
func (f *EventFetcher) fetchRange(ctx context.Context, q EventQuery, fromBlock, toBlock uint64) rangeResult {
	result := rangeResult{fromBlock: fromBlock, toBlock: toBlock}

	step := toBlock - fromBlock + 1
	current := fromBlock
	for current <= toBlock {
		end := current + step - 1
		if end > toBlock {
			end = toBlock
		}

		logs, err := f.eth.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(current),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{q.Contract},
			Topics:    [][]common.Hash{{transferEventSignature}},
		})
		if err != nil {
			if !isTooManyResultsError(err) {
				result.err = err
				return result
			}
			if step/2 < f.cfg.MinRangeSize {
				result.err = fmt.Errorf("range below floor %d still too large: %w", f.cfg.MinRangeSize, err)
				return result
			}
			step /= 2
			logger.Warn("log response too large, halving range",
				zap.Uint64("new_step", step),
				zap.Uint64("from_block", current))
			continue
		}

		for _, vLog := range logs {
			f.classify(vLog, q.BurnAddress, &result)
		}
		current = end + 1
	}
	return result
}

func (f *EventFetcher) classify(vLog types.Log, burnAddress string, r *rangeResult) {
	// ERC721 Transfer carries 4 topics; the 3-topic variant is ERC20.
	if len(vLog.Topics) != 4 || vLog.Topics[0] != transferEventSignature {
		return
	}
	from := common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
	to := common.BytesToAddress(vLog.Topics[2].Bytes()).Hex()

	switch domain.ClassifyTransfer(from, to, burnAddress) {
	case domain.TransferBuy:
		r.buys++
	case domain.TransferBurn:
		r.burns++
	case domain.TransferSell:
		r.sells++
	}
}

// isTooManyResultsError matches the provider messages for oversized log
// responses.
func isTooManyResultsError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "more than 10000 results") ||
		strings.Contains(msg, "query timeout exceeded") ||
		strings.Contains(msg, "too many results") ||
		strings.Contains(msg, "response size exceeded") ||
		strings.Contains(msg, "exceeded maximum")
}
