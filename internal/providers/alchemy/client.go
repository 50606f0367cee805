// Package alchemy wraps the NFT indexing service's "owners for contract"
// capability. Every request goes through the bounded retry policy; the
// paginated owner set is normalized into domain.OwnerRecord values.
package alchemy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/domain"
	"github.com/titanx-dash/holder-api/internal/logger"
	"github.com/titanx-dash/holder-api/internal/retry"
)

// maxPages caps pagination so a misbehaving continuation token cannot
// loop forever.
const maxPages = 1000

// Config holds the indexing service connection settings.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RetryOpts retry.Options
}

// Client fetches owner sets from the indexing service.
type Client struct {
	cfg  Config
	http adapter.HTTPClient
}

// NewClient creates an indexing service client.
func NewClient(cfg Config, httpClient adapter.HTTPClient) *Client {
	if cfg.RetryOpts.Retries == 0 {
		cfg.RetryOpts = retry.Options{Retries: 3, Delay: time.Second, Backoff: true}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// ownersPage is one page of the getOwnersForCollection response.
// OwnerAddresses stays raw until its shape has been checked.
type ownersPage struct {
	OwnerAddresses json.RawMessage `json:"ownerAddresses"`
	PageKey        string          `json:"pageKey"`
}

type ownerEntry struct {
	OwnerAddress  string `json:"ownerAddress"`
	TokenBalances []struct {
		TokenID string `json:"tokenId"`
		Balance uint64 `json:"balance"`
	} `json:"tokenBalances"`
}

// FetchOwners retrieves the full owner set for a contract, following
// continuation tokens until exhausted. Entries without an address or
// without any positive-balance token are dropped.
func (c *Client) FetchOwners(ctx context.Context, contractAddress string) ([]domain.OwnerRecord, error) {
	var owners []domain.OwnerRecord

	pageKey := ""
	for page := 0; page < maxPages; page++ {
		reqURL := c.pageURL(contractAddress, pageKey)

		resp, err := retry.Do(ctx, c.cfg.RetryOpts, func() (ownersPage, error) {
			var p ownersPage
			if err := c.http.GetJSON(ctx, reqURL, &p); err != nil {
				return ownersPage{}, err
			}
			return p, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch owners for %s: %w", contractAddress, err)
		}

		entries, err := decodeOwnerList(resp.OwnerAddresses)
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			record, ok := normalizeOwner(entry)
			if !ok {
				continue
			}
			owners = append(owners, record)
		}

		if resp.PageKey == "" {
			logger.Debug("owner enumeration complete",
				zap.String("contract", contractAddress),
				zap.Int("owners", len(owners)),
				zap.Int("pages", page+1))
			return owners, nil
		}
		pageKey = resp.PageKey
	}

	return nil, fmt.Errorf("owner enumeration for %s exceeded %d pages", contractAddress, maxPages)
}

func (c *Client) pageURL(contractAddress, pageKey string) string {
	q := url.Values{}
	q.Set("contractAddress", contractAddress)
	q.Set("withTokenBalances", "true")
	if pageKey != "" {
		q.Set("pageKey", pageKey)
	}
	return fmt.Sprintf("%s/nft/v2/%s/getOwnersForCollection?%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.APIKey, q.Encode())
}

// decodeOwnerList rejects responses whose owner field is not a list
// before any entry is used.
func decodeOwnerList(raw json.RawMessage) ([]ownerEntry, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || !strings.HasPrefix(trimmed, "[") {
		return nil, domain.ErrInvalidOwnersResponse
	}
	var entries []ownerEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOwnersResponse, err)
	}
	return entries, nil
}

// normalizeOwner converts one raw entry into an OwnerRecord, dropping
// degenerate entries.
func normalizeOwner(entry ownerEntry) (domain.OwnerRecord, bool) {
	if entry.OwnerAddress == "" {
		return domain.OwnerRecord{}, false
	}

	record := domain.OwnerRecord{OwnerAddress: strings.ToLower(entry.OwnerAddress)}
	for _, tb := range entry.TokenBalances {
		if tb.Balance == 0 {
			continue
		}
		tokenID, err := parseTokenID(tb.TokenID)
		if err != nil {
			logger.Warn("skipping unparseable token id",
				zap.String("owner", entry.OwnerAddress),
				zap.String("token_id", tb.TokenID),
				zap.Error(err))
			continue
		}
		record.TokenBalances = append(record.TokenBalances, domain.TokenBalance{
			TokenID: tokenID,
			Balance: tb.Balance,
		})
	}

	if len(record.TokenBalances) == 0 {
		return domain.OwnerRecord{}, false
	}
	return record, true
}

// parseTokenID accepts both hex ("0x1a") and decimal token ids.
func parseTokenID(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
