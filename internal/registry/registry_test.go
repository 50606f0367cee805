package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/domain"
	"github.com/titanx-dash/holder-api/internal/registry"
)

const validRegistry = `[
  {
    "key": "element280",
    "address": "0x96a5399D07896f757Bd4c6eF56461F58DB951862",
    "vault_address": "0x44c4ADAC9A2AEbF4bC2Dd1A6bA3be8dF53AD4f41",
    "tiers": [
      {"id": 1, "name": "common", "multiplier": 100},
      {"id": 2, "name": "rare", "multiplier": 250}
    ],
    "page_size": 50,
    "deploy_block": 20000000,
    "enabled": true
  },
  {
    "key": "element369",
    "address": "0x024eB9A4C56a0E4F0D2BcF204fd8ba9bb135CEae",
    "tiers": [{"id": 1, "name": "single", "multiplier": 1}],
    "page_size": 100,
    "deploy_block": 21000000,
    "enabled": false
  }
]`

func writeRegistry(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contracts.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	r, err := registry.Load(adapter.NewFileSystem(), writeRegistry(t, validRegistry))
	require.NoError(t, err)

	assert.Len(t, r.All(), 2)
	enabled := r.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "element280", enabled[0].Key)
}

func TestLoad_RejectsInvalidDescriptor(t *testing.T) {
	bad := `[{"key": "broken", "address": "not-an-address", "tiers": [{"id":1,"multiplier":1}], "page_size": 10}]`
	_, err := registry.Load(adapter.NewFileSystem(), writeRegistry(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestLoad_RejectsDuplicateKeys(t *testing.T) {
	dup := `[
	  {"key": "a", "address": "0x96a5399D07896f757Bd4c6eF56461F58DB951862", "tiers": [{"id":1,"multiplier":1}], "page_size": 10},
	  {"key": "A", "address": "0x024eB9A4C56a0E4F0D2BcF204fd8ba9bb135CEae", "tiers": [{"id":1,"multiplier":1}], "page_size": 10}
	]`
	_, err := registry.Load(adapter.NewFileSystem(), writeRegistry(t, dup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := registry.Load(adapter.NewFileSystem(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestGet_CaseInsensitive(t *testing.T) {
	r, err := registry.Load(adapter.NewFileSystem(), writeRegistry(t, validRegistry))
	require.NoError(t, err)

	d, err := r.Get("ELEMENT280")
	require.NoError(t, err)
	assert.Equal(t, "element280", d.Key)
}

func TestGet_UnknownContract(t *testing.T) {
	r, err := registry.Load(adapter.NewFileSystem(), writeRegistry(t, validRegistry))
	require.NoError(t, err)

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, domain.ErrUnknownContract)
}

func TestGet_DisabledContract(t *testing.T) {
	r, err := registry.Load(adapter.NewFileSystem(), writeRegistry(t, validRegistry))
	require.NoError(t, err)

	_, err = r.Get("element369")
	assert.ErrorIs(t, err, domain.ErrContractDisabled)
}
