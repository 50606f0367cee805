package rest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanx-dash/holder-api/internal/api/rest"
	"github.com/titanx-dash/holder-api/internal/domain"
)

func entryWithHolders(n int) domain.CacheEntry {
	holders := make([]domain.HolderSummary, n)
	for i := range holders {
		holders[i] = domain.HolderSummary{
			Wallet: walletAt(i),
			Total:  1,
			Tiers:  map[uint8]int{1: 1},
			Rank:   i + 1,
		}
	}
	return domain.CacheEntry{
		Holders:      holders,
		TotalMinted:  uint64(n),
		TotalLive:    uint64(n),
		TotalHolders: n,
		LastUpdated:  time.Now(),
	}
}

func walletAt(i int) string {
	return "0xaaa" + string(rune('a'+i%26)) + "00000000000000000000000000000000000001"
}

func TestFormatHoldersResponse_Pagination(t *testing.T) {
	entry := entryWithHolders(25)

	resp, err := rest.FormatHoldersResponse(entry, 1, 10, "")
	require.NoError(t, err)
	require.NotNil(t, resp.Pagination)
	assert.Len(t, resp.Holders, 10)
	assert.Equal(t, 1, resp.Pagination.Page)
	assert.Equal(t, 3, resp.Pagination.TotalPages)
	assert.Equal(t, 25, resp.Pagination.TotalItems)

	// Every holder appears exactly once across the pages, in rank order.
	seen := make([]string, 0, 25)
	for page := 1; page <= resp.Pagination.TotalPages; page++ {
		pageResp, err := rest.FormatHoldersResponse(entry, page, 10, "")
		require.NoError(t, err)
		for _, h := range pageResp.Holders {
			seen = append(seen, h.Wallet)
		}
	}
	require.Len(t, seen, 25)
	for i, h := range entry.Holders {
		assert.Equal(t, h.Wallet, seen[i])
	}
}

func TestFormatHoldersResponse_PageBeyondEnd(t *testing.T) {
	resp, err := rest.FormatHoldersResponse(entryWithHolders(5), 3, 10, "")
	require.NoError(t, err)
	assert.Empty(t, resp.Holders)
	assert.Equal(t, 1, resp.Pagination.TotalPages)
	assert.Equal(t, 3, resp.Pagination.Page)
}

func TestFormatHoldersResponse_WalletFilterBypassesPagination(t *testing.T) {
	entry := entryWithHolders(25)
	target := entry.Holders[17].Wallet

	resp, err := rest.FormatHoldersResponse(entry, 1, 5, target)
	require.NoError(t, err)
	assert.Nil(t, resp.Pagination)
	require.Len(t, resp.Holders, 1)
	assert.Equal(t, target, resp.Holders[0].Wallet)

	// Case-insensitive match.
	resp, err = rest.FormatHoldersResponse(entry, 1, 5, "0XAAA"+target[5:])
	require.NoError(t, err)
	require.Len(t, resp.Holders, 1)
}

func TestFormatHoldersResponse_WalletFilterNoMatch(t *testing.T) {
	resp, err := rest.FormatHoldersResponse(entryWithHolders(3), 1, 5,
		"0xdead00000000000000000000000000000000beef")
	require.NoError(t, err)
	assert.Empty(t, resp.Holders)
}

func TestFormatHoldersResponse_GlobalMetrics(t *testing.T) {
	entry := entryWithHolders(2)
	entry.TotalMinted = 10
	entry.TotalBurned = 8

	resp, err := rest.FormatHoldersResponse(entry, 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), resp.GlobalMetrics.TotalMinted)
	assert.Equal(t, uint64(8), resp.GlobalMetrics.TotalBurned)
	assert.Equal(t, 2, resp.GlobalMetrics.TotalHolders)
}

func TestFormatHoldersResponse_RejectsCorruptEntry(t *testing.T) {
	entry := entryWithHolders(3)
	entry.TotalHolders = 5
	_, err := rest.FormatHoldersResponse(entry, 1, 10, "")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	entry = entryWithHolders(3)
	entry.Holders[1].Rank = 9
	_, err = rest.FormatHoldersResponse(entry, 1, 10, "")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	entry = entryWithHolders(3)
	entry.Holders[0].Wallet = ""
	_, err = rest.FormatHoldersResponse(entry, 1, 10, "")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}
