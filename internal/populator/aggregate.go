package populator

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/titanx-dash/holder-api/internal/domain"
)

// FilterOwners drops wallets that should never appear in holder output:
// the zero address, the contract's burn address, and owners left with no
// positive-balance tokens.
func FilterOwners(owners []domain.OwnerRecord, burnAddress string) []domain.OwnerRecord {
	filtered := make([]domain.OwnerRecord, 0, len(owners))
	for _, o := range owners {
		if strings.EqualFold(o.OwnerAddress, domain.ZeroAddress) ||
			strings.EqualFold(o.OwnerAddress, burnAddress) {
			continue
		}
		if len(o.LiveTokens()) == 0 {
			continue
		}
		filtered = append(filtered, o)
	}
	return filtered
}

// BuildTokenOwnerMap constructs the bidirectional token/owner mapping.
// A token claimed by more than one owner is a data fault upstream; the
// last claim wins and the conflict is reported.
func BuildTokenOwnerMap(owners []domain.OwnerRecord) (domain.TokenOwnerMap, []string) {
	m := domain.TokenOwnerMap{
		TokenOwner:  make(map[uint64]string),
		OwnerTokens: make(map[string][]uint64),
	}
	var conflicts []string

	for _, o := range owners {
		wallet := strings.ToLower(o.OwnerAddress)
		for _, tokenID := range o.LiveTokens() {
			if prev, taken := m.TokenOwner[tokenID]; taken && prev != wallet {
				conflicts = append(conflicts,
					fmt.Sprintf("token %d claimed by %s and %s", tokenID, prev, wallet))
				m.OwnerTokens[prev] = removeToken(m.OwnerTokens[prev], tokenID)
			}
			m.TokenOwner[tokenID] = wallet
			m.OwnerTokens[wallet] = append(m.OwnerTokens[wallet], tokenID)
		}
	}

	for wallet, tokens := range m.OwnerTokens {
		if len(tokens) == 0 {
			delete(m.OwnerTokens, wallet)
			continue
		}
		sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	}
	return m, conflicts
}

func removeToken(tokens []uint64, tokenID uint64) []uint64 {
	out := tokens[:0]
	for _, id := range tokens {
		if id != tokenID {
			out = append(out, id)
		}
	}
	return out
}

// AggregateHolders folds the per-token tier and per-wallet reward data
// into ranked holder summaries. Percentage is each wallet's share of the
// collection's total multiplier weight.
func AggregateHolders(
	desc domain.ContractDescriptor,
	tokenMap domain.TokenOwnerMap,
	tiers map[uint64]uint8,
	rewards map[string]*big.Int,
) []domain.HolderSummary {
	holders := make([]domain.HolderSummary, 0, len(tokenMap.OwnerTokens))

	var totalMultiplier uint64
	for wallet, tokens := range tokenMap.OwnerTokens {
		h := domain.HolderSummary{
			Wallet: wallet,
			Total:  len(tokens),
			Tiers:  make(map[uint8]int),
		}
		for _, tokenID := range tokens {
			tier := tiers[tokenID]
			h.Tiers[tier]++
			h.MultiplierSum += desc.TierMultiplier(tier)
		}
		if r, ok := rewards[wallet]; ok && r != nil {
			h.ClaimableRewards = r.String()
		} else {
			h.ClaimableRewards = "0"
		}
		totalMultiplier += h.MultiplierSum
		holders = append(holders, h)
	}

	for i := range holders {
		if totalMultiplier > 0 {
			holders[i].Percentage = float64(holders[i].MultiplierSum) / float64(totalMultiplier) * 100
		}
	}

	// Highest multiplier weight first, token count breaks ties, wallet
	// address keeps the order deterministic.
	sort.Slice(holders, func(i, j int) bool {
		a, b := holders[i], holders[j]
		if a.MultiplierSum != b.MultiplierSum {
			return a.MultiplierSum > b.MultiplierSum
		}
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Wallet < b.Wallet
	})
	for i := range holders {
		holders[i].Rank = i + 1
	}
	return holders
}

// ValidateHolders checks the aggregate invariants before the result is
// allowed to replace the cache: per-holder tier counts must sum to the
// holder's total, totals must sum to the live supply, and ranks must be
// dense from 1.
func ValidateHolders(holders []domain.HolderSummary, totalLive uint64) error {
	var sum uint64
	for i, h := range holders {
		tierSum := 0
		for _, n := range h.Tiers {
			tierSum += n
		}
		if tierSum != h.Total {
			return fmt.Errorf("%w: holder %s tier counts sum to %d, total is %d",
				domain.ErrValidationFailed, h.Wallet, tierSum, h.Total)
		}
		if h.Rank != i+1 {
			return fmt.Errorf("%w: holder %s has rank %d at position %d",
				domain.ErrValidationFailed, h.Wallet, h.Rank, i+1)
		}
		sum += uint64(h.Total)
	}
	if sum != totalLive {
		return fmt.Errorf("%w: holder totals sum to %d, live supply is %d",
			domain.ErrValidationFailed, sum, totalLive)
	}
	return nil
}
