package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/titanx-dash/holder-api/internal/cache"
	"github.com/titanx-dash/holder-api/internal/domain"
	"github.com/titanx-dash/holder-api/internal/logger"
	"github.com/titanx-dash/holder-api/internal/populator"
	"github.com/titanx-dash/holder-api/internal/registry"
)

const MAX_PAGE_SIZE = 500

// Handler defines the interface for REST API handlers
// This interface allows for easy mocking and testing
type Handler interface {
	// GetHolders returns one page of the cached holder list
	// GET /api/v1/holders/:contract?page=<page>&limit=<limit>&wallet=<address>
	GetHolders(c *gin.Context)

	// TriggerPopulation starts a population run in the background
	// POST /api/v1/holders/:contract
	TriggerPopulation(c *gin.Context)

	// GetProgress returns the population progress for a contract
	// GET /api/v1/holders/:contract/progress
	GetProgress(c *gin.Context)

	// ListContracts returns every tracked contract
	// GET /api/v1/contracts
	ListContracts(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	registry   *registry.Registry
	store      *cache.Store
	tracker    *cache.StateTracker
	populator  *populator.Populator
	staleAfter time.Duration
}

// NewHandler creates a new REST API handler
func NewHandler(
	reg *registry.Registry,
	store *cache.Store,
	tracker *cache.StateTracker,
	pop *populator.Populator,
	staleAfter time.Duration,
) Handler {
	return &handler{
		registry:   reg,
		store:      store,
		tracker:    tracker,
		populator:  pop,
		staleAfter: staleAfter,
	}
}

// holdersQueryParams holds query parameters for GET /holders/:contract
type holdersQueryParams struct {
	Page   int    `form:"page,default=1"`
	Limit  int    `form:"limit,default=100"`
	Wallet string `form:"wallet"`
}

func (h *handler) resolveContract(c *gin.Context) (domain.ContractDescriptor, bool) {
	desc, err := h.registry.Get(c.Param("contract"))
	switch {
	case errors.Is(err, domain.ErrUnknownContract):
		respondNotFound(c, "Unknown contract", c.Param("contract"))
		return domain.ContractDescriptor{}, false
	case errors.Is(err, domain.ErrContractDisabled):
		respondContractDisabled(c, "Contract is disabled")
		return domain.ContractDescriptor{}, false
	case err != nil:
		respondInternalError(c, err, "Failed to resolve contract")
		return domain.ContractDescriptor{}, false
	}
	return desc, true
}

// GetHolders returns one page of the cached holder list. A stale entry is
// still served, but a background refresh is kicked off for the next reader.
func (h *handler) GetHolders(c *gin.Context) {
	desc, ok := h.resolveContract(c)
	if !ok {
		return
	}

	var params holdersQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondBadRequest(c, "Invalid query parameters", err.Error())
		return
	}
	if params.Page < 1 {
		respondBadRequest(c, "Page must be 1 or greater")
		return
	}
	if params.Limit < 1 {
		respondBadRequest(c, "Limit must be 1 or greater")
		return
	}
	if params.Limit > MAX_PAGE_SIZE {
		params.Limit = MAX_PAGE_SIZE
	}

	var entry domain.CacheEntry
	found, err := h.store.Get(c.Request.Context(), cache.PrefixHolders, desc.Key, &entry)
	if err != nil {
		respondInternalError(c, err, "Failed to read holder cache",
			zap.String("contract", desc.Key))
		return
	}
	if !found {
		// Nothing cached yet: kick a run and tell the caller to poll progress
		if _, err := h.populator.TriggerAsync(c.Request.Context(), desc.Key, false); err != nil {
			respondInternalError(c, err, "Failed to trigger population",
				zap.String("contract", desc.Key))
			return
		}
		state := h.tracker.LoadState(c.Request.Context(), desc.Key)
		c.JSON(http.StatusAccepted, gin.H{
			"status": string(populator.StatusInProgress),
			"cache_state": CacheState{
				IsPopulating: state.IsPopulating,
				Step:         string(state.Step),
				Progress:     state.ProgressPercentage(),
			},
		})
		return
	}

	if time.Since(entry.LastUpdated) > h.staleAfter {
		if _, err := h.populator.TriggerAsync(c.Request.Context(), desc.Key, false); err != nil {
			logger.WarnCtx(c.Request.Context(), "stale refresh trigger failed",
				zap.String("contract", desc.Key), zap.Error(err))
		}
	}

	resp, err := FormatHoldersResponse(entry, params.Page, params.Limit, params.Wallet)
	if err != nil {
		respondInternalError(c, err, "Cached holder data failed validation",
			zap.String("contract", desc.Key))
		return
	}

	state := h.tracker.LoadState(c.Request.Context(), desc.Key)
	resp.Status = "completed"
	if state.IsPopulating {
		resp.Status = string(populator.StatusInProgress)
	}
	resp.CacheState = &CacheState{
		IsPopulating: state.IsPopulating,
		Step:         string(state.Step),
		Progress:     state.ProgressPercentage(),
	}
	c.JSON(http.StatusOK, resp)
}

// triggerRequest is the optional TriggerPopulation body
type triggerRequest struct {
	ForceUpdate bool `json:"force_update"`
}

// TriggerPopulation starts a population run in the background. A forced
// trigger repopulates even when the cache is still fresh.
func (h *handler) TriggerPopulation(c *gin.Context) {
	desc, ok := h.resolveContract(c)
	if !ok {
		return
	}

	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "Invalid request body", err.Error())
			return
		}
	}

	status, err := h.populator.TriggerAsync(c.Request.Context(), desc.Key, req.ForceUpdate)
	if err != nil {
		respondInternalError(c, err, "Failed to trigger population",
			zap.String("contract", desc.Key))
		return
	}

	state := h.tracker.LoadState(c.Request.Context(), desc.Key)
	body := gin.H{
		"status":   string(status),
		"progress": state.ProgressPercentage(),
		"step":     string(state.Step),
	}

	if status == populator.StatusStarted {
		c.JSON(http.StatusAccepted, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// GetProgress returns the population progress for a contract
func (h *handler) GetProgress(c *gin.Context) {
	desc, ok := h.resolveContract(c)
	if !ok {
		return
	}

	state := h.tracker.LoadState(c.Request.Context(), desc.Key)

	var metrics *GlobalMetrics
	var entry domain.CacheEntry
	if found, err := h.store.Get(c.Request.Context(), cache.PrefixHolders, desc.Key, &entry); err == nil && found {
		metrics = &GlobalMetrics{
			TotalMinted:  entry.TotalMinted,
			TotalLive:    entry.TotalLive,
			TotalBurned:  entry.TotalBurned,
			TotalHolders: entry.TotalHolders,
			TotalShares:  entry.TotalShares,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"contract":             desc.Key,
		"is_populating":        state.IsPopulating,
		"step":                 string(state.Step),
		"progress":             state.ProgressPercentage(),
		"total_owners":         state.TotalOwners,
		"total_nfts":           state.TotalNFTs,
		"processed_nfts":       state.ProcessedNFTs,
		"total_tiers":          state.TotalTiers,
		"processed_tiers":      state.ProcessedTiers,
		"error":                state.Error,
		"error_log":            state.ErrorLog,
		"last_processed_block": state.LastProcessedBlock,
		"last_updated":         state.LastUpdated,
		"global_metrics":       metrics,
	})
}

// contractInfo is the ListContracts element
type contractInfo struct {
	Key         string            `json:"key"`
	Address     string            `json:"address"`
	Enabled     bool              `json:"enabled"`
	Tiers       []domain.TierSpec `json:"tiers"`
	DeployBlock uint64            `json:"deploy_block"`
}

// ListContracts returns every tracked contract
func (h *handler) ListContracts(c *gin.Context) {
	all := h.registry.All()
	out := make([]contractInfo, 0, len(all))
	for _, d := range all {
		out = append(out, contractInfo{
			Key:         d.Key,
			Address:     d.Address,
			Enabled:     d.Enabled,
			Tiers:       d.Tiers,
			DeployBlock: d.DeployBlock,
		})
	}
	c.JSON(http.StatusOK, gin.H{"contracts": out})
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
