// Package chain issues read-only contract calls against an Ethereum node:
// grouped tier/reward reads through Multicall3 and historical Transfer log
// scans for collection totals.
package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/logger"
)

// Multicall3 is deployed at the same address on every major EVM chain.
const DefaultMulticallAddress = "0xcA11bde05977b3631167028862bE2a173976CA11"

const multicall3ABI = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

var mcABI = mustParseABI(multicall3ABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// Call is one read-only contract call.
type Call struct {
	Target   common.Address
	CallData []byte
}

// Result is the outcome of one call. Results preserve one-to-one index
// correspondence with the input calls.
type Result struct {
	Success    bool
	ReturnData []byte
	Err        error
}

// mcCall mirrors Multicall3.Call3 for ABI packing.
type mcCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// mcResult mirrors Multicall3.Result for ABI unpacking.
type mcResult struct {
	Success    bool
	ReturnData []byte
}

// CallerConfig bounds batch size and dispatch rate against the node.
type CallerConfig struct {
	BatchSize   int           // calls per aggregate3 invocation
	Concurrency int           // batches in flight at once
	SlotDelay   time.Duration // pause between dispatching successive batches
}

// Caller groups read-only calls into Multicall3 batches with bounded
// concurrency. A failing batch degrades only its own calls.
type Caller struct {
	eth       adapter.EthClient
	clock     adapter.Clock
	multicall common.Address
	cfg       CallerConfig
}

// NewCaller creates a batched contract caller.
func NewCaller(eth adapter.EthClient, clock adapter.Clock, multicall common.Address, cfg CallerConfig) *Caller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Caller{eth: eth, clock: clock, multicall: multicall, cfg: cfg}
}

// BatchCall executes calls in fixed-size batches. The returned slice has
// exactly one Result per input call, in input order. Batch-level transport
// errors mark every call of that batch failed; other batches proceed.
func (c *Caller) BatchCall(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	pool := pond.NewPool(c.cfg.Concurrency, pond.WithContext(ctx))
	group := pool.NewGroup()

	var mu sync.Mutex
	for start := 0; start < len(calls); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(calls) {
			end = len(calls)
		}
		offset, batch := start, calls[start:end]

		group.Submit(func() {
			batchResults := c.callBatch(ctx, batch)
			mu.Lock()
			copy(results[offset:], batchResults)
			mu.Unlock()
		})

		// Pace dispatch so a burst of batches does not trip upstream limits.
		if c.cfg.SlotDelay > 0 && end < len(calls) {
			c.clock.Sleep(c.cfg.SlotDelay)
		}
	}

	group.Wait()
	pool.StopAndWait()
	return results
}

// callBatch runs one aggregate3 invocation. allowFailure is set on every
// call so a single reverting read degrades only itself.
func (c *Caller) callBatch(ctx context.Context, batch []Call) []Result {
	out := make([]Result, len(batch))

	mcCalls := make([]mcCall, len(batch))
	for i, call := range batch {
		mcCalls[i] = mcCall{Target: call.Target, AllowFailure: true, CallData: call.CallData}
	}

	data, err := mcABI.Pack("aggregate3", mcCalls)
	if err != nil {
		return failBatch(out, fmt.Errorf("failed to pack aggregate3: %w", err))
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.multicall, Data: data}, nil)
	if err != nil {
		logger.Warn("multicall batch failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return failBatch(out, fmt.Errorf("multicall failed: %w", err))
	}

	unpacked, err := mcABI.Unpack("aggregate3", raw)
	if err != nil {
		return failBatch(out, fmt.Errorf("failed to unpack aggregate3: %w", err))
	}
	mcResults := *abi.ConvertType(unpacked[0], new([]mcResult)).(*[]mcResult)
	if len(mcResults) != len(batch) {
		return failBatch(out, fmt.Errorf("multicall returned %d results for %d calls", len(mcResults), len(batch)))
	}

	for i, r := range mcResults {
		if !r.Success {
			out[i] = Result{Err: fmt.Errorf("call reverted")}
			continue
		}
		out[i] = Result{Success: true, ReturnData: r.ReturnData}
	}
	return out
}

func failBatch(out []Result, err error) []Result {
	for i := range out {
		out[i] = Result{Err: err}
	}
	return out
}
