package rest

import (
	"fmt"
	"strings"
	"time"

	"github.com/titanx-dash/holder-api/internal/domain"
)

// Pagination describes one page of a holder listing. Pages are 1-based.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

// GlobalMetrics carries the collection-wide totals alongside any page.
type GlobalMetrics struct {
	TotalMinted  uint64 `json:"total_minted"`
	TotalLive    uint64 `json:"total_live"`
	TotalBurned  uint64 `json:"total_burned"`
	TotalHolders int    `json:"total_holders"`
	TotalShares  string `json:"total_shares,omitempty"`
}

// CacheState is a snapshot of the population state served next to the
// holder data so pollers need not hit the progress endpoint.
type CacheState struct {
	IsPopulating bool    `json:"is_populating"`
	Step         string  `json:"step"`
	Progress     float64 `json:"progress"`
}

// HoldersResponse is the GET /holders payload.
type HoldersResponse struct {
	Holders       []domain.HolderSummary `json:"holders"`
	Pagination    *Pagination            `json:"pagination,omitempty"`
	GlobalMetrics GlobalMetrics          `json:"global_metrics"`
	Status        string                 `json:"status"`
	CacheState    *CacheState            `json:"cache_state,omitempty"`
	LastUpdated   time.Time              `json:"last_updated"`
}

// FormatHoldersResponse shapes a cache entry into one response page. A
// wallet filter bypasses pagination and returns every match. The entry
// is schema-checked first; serving a malformed cache is worse than a 500.
func FormatHoldersResponse(entry domain.CacheEntry, page, limit int, wallet string) (HoldersResponse, error) {
	if err := checkEntry(entry); err != nil {
		return HoldersResponse{}, err
	}

	resp := HoldersResponse{
		GlobalMetrics: GlobalMetrics{
			TotalMinted:  entry.TotalMinted,
			TotalLive:    entry.TotalLive,
			TotalBurned:  entry.TotalBurned,
			TotalHolders: entry.TotalHolders,
			TotalShares:  entry.TotalShares,
		},
		LastUpdated: entry.LastUpdated,
	}

	if wallet != "" {
		resp.Holders = []domain.HolderSummary{}
		for _, h := range entry.Holders {
			if strings.EqualFold(h.Wallet, wallet) {
				resp.Holders = append(resp.Holders, h)
			}
		}
		return resp, nil
	}

	total := len(entry.Holders)
	totalPages := (total + limit - 1) / limit

	resp.Pagination = &Pagination{
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
		TotalItems: total,
	}

	start := (page - 1) * limit
	if start >= total {
		resp.Holders = []domain.HolderSummary{}
		return resp, nil
	}
	end := min(start+limit, total)
	resp.Holders = entry.Holders[start:end]
	return resp, nil
}

// checkEntry verifies the invariants every cached entry must satisfy
// before it is served.
func checkEntry(entry domain.CacheEntry) error {
	if entry.TotalHolders != len(entry.Holders) {
		return fmt.Errorf("%w: entry reports %d holders, carries %d",
			domain.ErrValidationFailed, entry.TotalHolders, len(entry.Holders))
	}
	for i, h := range entry.Holders {
		if h.Wallet == "" {
			return fmt.Errorf("%w: holder %d has no wallet", domain.ErrValidationFailed, i)
		}
		if h.Rank != i+1 {
			return fmt.Errorf("%w: holder %s has rank %d at position %d",
				domain.ErrValidationFailed, h.Wallet, h.Rank, i+1)
		}
	}
	return nil
}
