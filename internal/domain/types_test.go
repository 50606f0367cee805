package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanx-dash/holder-api/internal/domain"
)

func TestContractDescriptor_Validate(t *testing.T) {
	valid := domain.ContractDescriptor{
		Key:      "dragonx",
		Address:  "0x96a5399D07896f757Bd4c6eF56461F58DB951862",
		Tiers:    []domain.TierSpec{{ID: 1, Name: "Common", Multiplier: 1}},
		PageSize: 100,
	}

	tests := []struct {
		name    string
		mutate  func(*domain.ContractDescriptor)
		wantErr string
	}{
		{name: "valid", mutate: func(d *domain.ContractDescriptor) {}},
		{
			name:    "missing key",
			mutate:  func(d *domain.ContractDescriptor) { d.Key = "" },
			wantErr: "missing key",
		},
		{
			name:    "bad address",
			mutate:  func(d *domain.ContractDescriptor) { d.Address = "0x123" },
			wantErr: "invalid address",
		},
		{
			name:    "bad vault address",
			mutate:  func(d *domain.ContractDescriptor) { d.VaultAddress = "not-an-address" },
			wantErr: "invalid vault address",
		},
		{
			name:    "empty tiers",
			mutate:  func(d *domain.ContractDescriptor) { d.Tiers = nil },
			wantErr: "empty tier table",
		},
		{
			name:    "zero page size",
			mutate:  func(d *domain.ContractDescriptor) { d.PageSize = 0 },
			wantErr: "page size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestContractDescriptor_Burn(t *testing.T) {
	d := domain.ContractDescriptor{}
	assert.Equal(t, domain.DefaultBurnAddress, d.Burn())

	d.BurnAddress = "0x000000000000000000000000000000000000DEAD"
	assert.Equal(t, "0x000000000000000000000000000000000000dead", d.Burn())
}

func TestClassifyTransfer(t *testing.T) {
	burn := domain.DefaultBurnAddress

	assert.Equal(t, domain.TransferBuy, domain.ClassifyTransfer(domain.ZeroAddress, "0xabc", burn))
	assert.Equal(t, domain.TransferBurn, domain.ClassifyTransfer("0xabc", burn, burn))
	assert.Equal(t, domain.TransferBurn, domain.ClassifyTransfer("0xabc", domain.ZeroAddress, burn))
	assert.Equal(t, domain.TransferSell, domain.ClassifyTransfer("0xabc", "0xdef", burn))

	// Case-insensitive comparison.
	assert.Equal(t, domain.TransferBurn,
		domain.ClassifyTransfer("0xabc", "0x000000000000000000000000000000000000DeAd", burn))
}

func TestProgressPercentage(t *testing.T) {
	tests := []struct {
		name  string
		state domain.ProgressState
		want  float64
	}{
		{name: "idle", state: domain.ProgressState{Step: domain.StepIdle}, want: 0},
		{name: "completed", state: domain.ProgressState{Step: domain.StepCompleted}, want: 100},
		{
			name:  "half of tier fetch",
			state: domain.ProgressState{Step: domain.StepFetchingTiers, ProcessedTiers: 50, TotalTiers: 100},
			// owners(15) + filtering(5) + token map(5) + half of tiers(35)
			want: 42.5,
		},
		{
			name:  "rewards not started",
			state: domain.ProgressState{Step: domain.StepFetchingRewards, TotalNFTs: 10},
			want:  60,
		},
		{
			name:  "processing holders",
			state: domain.ProgressState{Step: domain.StepProcessingHolders},
			want:  85,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.state.ProgressPercentage(), 1e-9)
		})
	}
}

func TestStepActive(t *testing.T) {
	assert.False(t, domain.StepIdle.Active())
	assert.False(t, domain.StepCompleted.Active())
	assert.False(t, domain.StepError.Active())
	assert.False(t, domain.Step("").Active())
	assert.True(t, domain.StepFetchingOwners.Active())
	assert.True(t, domain.StepProcessingHolders.Active())
}

func TestOwnerRecord_LiveTokens(t *testing.T) {
	r := domain.OwnerRecord{
		OwnerAddress: "0xa",
		TokenBalances: []domain.TokenBalance{
			{TokenID: 1, Balance: 1},
			{TokenID: 2, Balance: 0},
			{TokenID: 3, Balance: 2},
		},
	}
	assert.Equal(t, []uint64{1, 3}, r.LiveTokens())
}
