// Package registry loads and serves the static contract descriptors the
// service tracks. The descriptor file is read once at startup and every
// entry is validated before the registry is handed out.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/domain"
)

// Registry is the immutable set of tracked contracts, keyed
// case-insensitively by contract key.
type Registry struct {
	byKey map[string]domain.ContractDescriptor
	order []string
}

// Load reads the descriptor file and validates every entry. Any invalid
// descriptor fails the load; a half-valid registry never serves traffic.
func Load(fs adapter.FileSystem, path string) (*Registry, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract registry %s: %w", path, err)
	}

	var descriptors []domain.ContractDescriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to parse contract registry %s: %w", path, err)
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("contract registry %s is empty", path)
	}

	r := &Registry{byKey: make(map[string]domain.ContractDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("invalid contract registry %s: %w", path, err)
		}
		key := strings.ToLower(d.Key)
		if _, exists := r.byKey[key]; exists {
			return nil, fmt.Errorf("contract registry %s: duplicate key %q", path, d.Key)
		}
		r.byKey[key] = d
		r.order = append(r.order, key)
	}
	sort.Strings(r.order)
	return r, nil
}

// Get returns the descriptor for a contract key. The lookup is
// case-insensitive; disabled contracts resolve with ErrContractDisabled.
func (r *Registry) Get(key string) (domain.ContractDescriptor, error) {
	d, ok := r.byKey[strings.ToLower(key)]
	if !ok {
		return domain.ContractDescriptor{}, fmt.Errorf("%w: %s", domain.ErrUnknownContract, key)
	}
	if !d.Enabled {
		return domain.ContractDescriptor{}, fmt.Errorf("%w: %s", domain.ErrContractDisabled, key)
	}
	return d, nil
}

// Enabled returns the enabled descriptors in key order.
func (r *Registry) Enabled() []domain.ContractDescriptor {
	out := make([]domain.ContractDescriptor, 0, len(r.order))
	for _, key := range r.order {
		if d := r.byKey[key]; d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// All returns every descriptor, enabled or not, in key order.
func (r *Registry) All() []domain.ContractDescriptor {
	out := make([]domain.ContractDescriptor, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}
