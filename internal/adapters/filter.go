package adapters

import (
	"context"
	"fmt"

	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// StoreFilter persists adaptive content-filter triggers through the
// persistence store, so filters added by REJECT survive restarts.
type StoreFilter struct {
	store persistence.Store
}

// NewStoreFilter builds the store-backed filter service.
func NewStoreFilter(store persistence.Store) *StoreFilter {
	return &StoreFilter{store: store}
}

// AddFilterTrigger implements ports.FilterService. Duplicate triggers are
// reported as not-added rather than as errors.
func (f *StoreFilter) AddFilterTrigger(ctx context.Context, trigger string, disposition string) (bool, error) {
	if trigger == "" {
		return false, fmt.Errorf("filter: empty trigger")
	}
	existing, err := f.store.ListFilterTriggers(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := existing[trigger]; ok {
		return false, nil
	}
	if err := f.store.AddFilterTrigger(ctx, trigger, disposition); err != nil {
		return false, err
	}
	return true, nil
}

var _ ports.FilterService = (*StoreFilter)(nil)
