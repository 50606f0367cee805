package chain_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/chain"
	"github.com/titanx-dash/holder-api/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeEthClient implements adapter.EthClient with function fields.
type fakeEthClient struct {
	callContract func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	filterLogs   func(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

func (f *fakeEthClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return f.filterLogs(ctx, query)
}

func (f *fakeEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callContract(ctx, msg, blockNumber)
}

func (f *fakeEthClient) Close() {}

var _ adapter.EthClient = (*fakeEthClient)(nil)

const testMulticallABI = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

type mcCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type mcResult struct {
	Success    bool
	ReturnData []byte
}

// multicallResponder decodes an aggregate3 invocation and answers each
// inner call through respond.
func multicallResponder(t *testing.T, respond func(call mcCall) mcResult) func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(testMulticallABI))
	require.NoError(t, err)
	method := parsed.Methods["aggregate3"]

	return func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		in, err := method.Inputs.Unpack(msg.Data[4:])
		require.NoError(t, err)
		calls := *abi.ConvertType(in[0], new([]mcCall)).(*[]mcCall)

		results := make([]mcResult, len(calls))
		for i, c := range calls {
			results[i] = respond(c)
		}
		return method.Outputs.Pack(results)
	}
}

func testCaller(eth adapter.EthClient, cfg chain.CallerConfig) *chain.Caller {
	return chain.NewCaller(eth, adapter.NewClock(),
		common.HexToAddress(chain.DefaultMulticallAddress), cfg)
}

func TestBatchCall_PartialFailureIsolation(t *testing.T) {
	// Call #3 of 10 reverts; the other nine succeed with their own data.
	calls := make([]chain.Call, 10)
	for i := range calls {
		data, err := chain.PackTierCall(uint64(i))
		require.NoError(t, err)
		calls[i] = chain.Call{Target: common.HexToAddress("0x1"), CallData: data}
	}

	failing := calls[2].CallData
	eth := &fakeEthClient{
		callContract: multicallResponder(t, func(c mcCall) mcResult {
			if string(c.CallData) == string(failing) {
				return mcResult{Success: false}
			}
			return mcResult{Success: true, ReturnData: c.CallData}
		}),
	}

	results := testCaller(eth, chain.CallerConfig{BatchSize: 10}).BatchCall(context.Background(), calls)

	require.Len(t, results, 10)
	for i, r := range results {
		if i == 2 {
			assert.False(t, r.Success)
			assert.Error(t, r.Err)
			continue
		}
		assert.True(t, r.Success, "call %d", i)
		assert.Equal(t, calls[i].CallData, r.ReturnData, "call %d", i)
	}
}

func TestBatchCall_PreservesOrderAcrossBatches(t *testing.T) {
	calls := make([]chain.Call, 7)
	for i := range calls {
		data, err := chain.PackTierCall(uint64(i))
		require.NoError(t, err)
		calls[i] = chain.Call{Target: common.HexToAddress("0x1"), CallData: data}
	}

	eth := &fakeEthClient{
		callContract: multicallResponder(t, func(c mcCall) mcResult {
			return mcResult{Success: true, ReturnData: c.CallData}
		}),
	}

	results := testCaller(eth, chain.CallerConfig{BatchSize: 3, Concurrency: 2}).
		BatchCall(context.Background(), calls)

	require.Len(t, results, 7)
	for i, r := range results {
		require.True(t, r.Success)
		assert.Equal(t, calls[i].CallData, r.ReturnData, "call %d out of order", i)
	}
}

func TestBatchCall_BatchLevelFailureDegradesOnlyItsBatch(t *testing.T) {
	calls := make([]chain.Call, 6)
	for i := range calls {
		data, err := chain.PackTierCall(uint64(i))
		require.NoError(t, err)
		calls[i] = chain.Call{Target: common.HexToAddress("0x1"), CallData: data}
	}

	// Second multicall invocation fails at the transport level.
	parsed, err := abi.JSON(strings.NewReader(testMulticallABI))
	require.NoError(t, err)
	method := parsed.Methods["aggregate3"]

	responder := multicallResponder(t, func(c mcCall) mcResult {
		return mcResult{Success: true, ReturnData: c.CallData}
	})
	eth := &fakeEthClient{
		callContract: func(ctx context.Context, msg ethereum.CallMsg, bn *big.Int) ([]byte, error) {
			in, err := method.Inputs.Unpack(msg.Data[4:])
			require.NoError(t, err)
			batch := *abi.ConvertType(in[0], new([]mcCall)).(*[]mcCall)
			if string(batch[0].CallData) == string(calls[3].CallData) {
				return nil, errors.New("connection reset")
			}
			return responder(ctx, msg, bn)
		},
	}

	results := testCaller(eth, chain.CallerConfig{BatchSize: 3, Concurrency: 1}).
		BatchCall(context.Background(), calls)

	require.Len(t, results, 6)
	for i := 0; i < 3; i++ {
		assert.True(t, results[i].Success, "call %d", i)
	}
	for i := 3; i < 6; i++ {
		assert.False(t, results[i].Success, "call %d", i)
		assert.ErrorContains(t, results[i].Err, "connection reset")
	}
}

func TestBatchCall_EmptyInput(t *testing.T) {
	eth := &fakeEthClient{}
	results := testCaller(eth, chain.CallerConfig{}).BatchCall(context.Background(), nil)
	assert.Empty(t, results)
}

func TestTierCallRoundTrip(t *testing.T) {
	data, err := chain.PackTierCall(42)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// A tier value encoded the way the contract returns it.
	encoded := make([]byte, 32)
	encoded[31] = 3
	tier, err := chain.DecodeTier(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), tier)
}

func TestRewardsCallRoundTrip(t *testing.T) {
	data, err := chain.PackRewardsCall([]uint64{1, 2, 3})
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	encoded := make([]byte, 32)
	encoded[31] = 0x64 // 100 wei
	amount, err := chain.DecodeRewards(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(100), amount.Int64())
}
