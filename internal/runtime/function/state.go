package function

import (
	"context"

	"github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
)

// KeyRequest names the single key of a get or delete, e.g. {"key": "weapon"}.
type KeyRequest map[string]string

func (r KeyRequest) key() (string, error) {
	if len(r) != 1 {
		return "", errspkg.ErrInvalidStateRequest
	}
	for _, k := range r {
		return k, nil
	}
	return "", errspkg.ErrInvalidStateRequest
}

// StateOps dispatches state operations to the declared state stores. Every
// operation takes a store name; "" addresses every declared store. Stores are
// addressed by their declared name, and components that are not state stores
// settle fulfilled with no value.
type StateOps struct {
	fc *Context
}

func (s *StateOps) Save(ctx context.Context, items []sidecar.StateItem, store string) []Settled {
	return s.fanOut(ctx, store, func(ctx context.Context, client sidecar.Client, name string) (any, error) {
		return nil, client.SaveState(ctx, name, items)
	})
}

// Get reads one key. It fails with ErrInvalidStateRequest, before contacting
// any store, unless req holds exactly one entry.
func (s *StateOps) Get(ctx context.Context, req KeyRequest, store string) ([]Settled, error) {
	key, err := req.key()
	if err != nil {
		return nil, err
	}
	return s.fanOut(ctx, store, func(ctx context.Context, client sidecar.Client, name string) (any, error) {
		return client.GetState(ctx, name, key)
	}), nil
}

func (s *StateOps) GetBulk(ctx context.Context, req sidecar.BulkRequest, store string) []Settled {
	return s.fanOut(ctx, store, func(ctx context.Context, client sidecar.Client, name string) (any, error) {
		return client.GetBulkState(ctx, name, req)
	})
}

// Delete removes one key, validated like Get.
func (s *StateOps) Delete(ctx context.Context, req KeyRequest, store string) ([]Settled, error) {
	key, err := req.key()
	if err != nil {
		return nil, err
	}
	return s.fanOut(ctx, store, func(ctx context.Context, client sidecar.Client, name string) (any, error) {
		return nil, client.DeleteState(ctx, name, key)
	}), nil
}

func (s *StateOps) Transaction(ctx context.Context, req sidecar.TransactionRequest, store string) []Settled {
	return s.fanOut(ctx, store, func(ctx context.Context, client sidecar.Client, name string) (any, error) {
		return nil, client.ExecuteStateTransaction(ctx, name, req)
	})
}

func (s *StateOps) Query(ctx context.Context, query sidecar.Query, store string) []Settled {
	return s.fanOut(ctx, store, func(ctx context.Context, client sidecar.Client, name string) (any, error) {
		return client.QueryState(ctx, name, query)
	})
}

type stateCall func(ctx context.Context, client sidecar.Client, store string) (any, error)

func (s *StateOps) fanOut(ctx context.Context, store string, call stateCall) []Settled {
	targets := selectTargets(s.fc.conf.States, store)
	if len(targets) == 0 {
		return []Settled{}
	}
	return settleAll(ctx, targets, func(ctx context.Context, t target) (any, error) {
		if !config.IsStateComponent(t.component) {
			return nil, nil
		}
		if s.fc.sidecar == nil {
			return nil, errspkg.ErrSidecarRequired
		}
		return call(ctx, s.fc.sidecar, t.name)
	})
}
