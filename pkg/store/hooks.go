package store

import (
	"context"
	"sync"
)

type hooksKey struct{}

// CommitHooks collects callbacks that run once the enclosing transaction commits
type CommitHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// WithCommitHooks returns a context carrying a fresh hook list. Transactor
// implementations call it when they open a root transaction.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	hooks := &CommitHooks{}
	return context.WithValue(ctx, hooksKey{}, hooks), hooks
}

// InTx reports whether ctx belongs to an open transaction
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(hooksKey{}).(*CommitHooks)
	return ok
}

// AfterCommit defers fn until the transaction in ctx commits. Outside a
// transaction fn runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	hooks, ok := ctx.Value(hooksKey{}).(*CommitHooks)
	if !ok {
		fn(ctx)
		return
	}
	hooks.mu.Lock()
	hooks.fns = append(hooks.fns, fn)
	hooks.mu.Unlock()
}

// Run invokes the collected hooks in registration order
func (h *CommitHooks) Run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	// hooks run detached from the finished transaction
	ctx = context.WithoutCancel(ctx)
	ctx = context.WithValue(ctx, hooksKey{}, nil)
	for _, fn := range fns {
		fn(ctx)
	}
}
