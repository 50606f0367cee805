package chain

import (
	"fmt"
	"math/big"
)

// Minimal ABIs for the per-collection read functions. Tier lookup lives on
// the NFT contract, reward lookup on its vault.
const (
	tierABI    = `[{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"getTokenTier","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`
	rewardsABI = `[{"inputs":[{"internalType":"uint256[]","name":"tokenIds","type":"uint256[]"}],"name":"claimableRewards","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var (
	parsedTierABI    = mustParseABI(tierABI)
	parsedRewardsABI = mustParseABI(rewardsABI)
)

// PackTierCall builds the calldata for a single token's tier lookup.
func PackTierCall(tokenID uint64) ([]byte, error) {
	data, err := parsedTierABI.Pack("getTokenTier", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return nil, fmt.Errorf("failed to pack tier call for token %d: %w", tokenID, err)
	}
	return data, nil
}

// DecodeTier decodes a tier lookup's return data.
func DecodeTier(data []byte) (uint8, error) {
	out, err := parsedTierABI.Unpack("getTokenTier", data)
	if err != nil {
		return 0, fmt.Errorf("failed to decode tier: %w", err)
	}
	tier, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected tier type %T", out[0])
	}
	return tier, nil
}

// PackRewardsCall builds the calldata for a wallet's claimable rewards,
// grouped over the wallet's token ids.
func PackRewardsCall(tokenIDs []uint64) ([]byte, error) {
	ids := make([]*big.Int, len(tokenIDs))
	for i, id := range tokenIDs {
		ids[i] = new(big.Int).SetUint64(id)
	}
	data, err := parsedRewardsABI.Pack("claimableRewards", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to pack rewards call: %w", err)
	}
	return data, nil
}

// DecodeRewards decodes a claimable-rewards return value in wei.
func DecodeRewards(data []byte) (*big.Int, error) {
	out, err := parsedRewardsABI.Unpack("claimableRewards", data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rewards: %w", err)
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected rewards type %T", out[0])
	}
	return amount, nil
}
