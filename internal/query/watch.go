// Package query exposes per-entity and per-page views over the store: pull
// accessors, deduplicated change streams and fetch-on-demand helpers.
package query

import (
	"context"
	"reflect"

	"consolecore/internal/effects"
	"consolecore/internal/schema"
	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

// Dispatcher is the part of the effect pipeline the query layer drives.
// *effects.Pipeline implements it.
type Dispatcher interface {
	Store() *store.Store
	Schemas() *schema.Registry
	Dispatch(ctx context.Context, req effects.Request) domain.RequestDescriptor
	DispatchIf(ctx context.Context, req effects.Request, guard func(store.State) bool) (domain.RequestDescriptor, bool)
}

var _ Dispatcher = (*effects.Pipeline)(nil)

// Equal compares values with reflect.DeepEqual.
func Equal[T any](a, b T) bool { return reflect.DeepEqual(a, b) }

// Watch streams sel(state) for every committed state, skipping values eq
// reports unchanged. The channel is closed when ctx ends.
func Watch[T any](ctx context.Context, st *store.Store, sel func(store.State) T, eq func(a, b T) bool) <-chan T {
	return watch(ctx, st, sel, eq, nil)
}

// watch is Watch restricted to values keep accepts.
func watch[T any](ctx context.Context, st *store.Store, sel func(store.State) T, eq func(a, b T) bool, keep func(T) bool) <-chan T {
	if eq == nil {
		eq = Equal[T]
	}
	out := make(chan T)
	states, cancel := st.Subscribe()
	go func() {
		defer close(out)
		defer cancel()
		var last T
		sent := false
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-states:
				if !ok {
					return
				}
				v := sel(s)
				if keep != nil && !keep(v) {
					continue
				}
				if sent && eq(last, v) {
					continue
				}
				select {
				case out <- v:
					last, sent = v, true
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
