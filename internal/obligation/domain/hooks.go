package domain

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// SettlementHook is implemented by the workflow that owns an obligation
// kind (lab, pharmacy, admissions). It is invoked once the obligation
// becomes fully settled so the owning record can be marked paid.
type SettlementHook interface {
	MarkSettled(ctx context.Context, obligationType ObligationType, obligationRef snowflake.ID) error
}

// HookRegistry maps obligation kinds to their settlement hooks. Hooks
// are best effort collaborators; a missing hook is not an error.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[ObligationType]SettlementHook
}

func NewHookRegistry() *HookRegistry {
	return &HookRegistry{hooks: make(map[ObligationType]SettlementHook)}
}

func (r *HookRegistry) Register(t ObligationType, hook SettlementHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[t] = hook
}

func (r *HookRegistry) Get(t ObligationType) (SettlementHook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hook, ok := r.hooks[t]
	return hook, ok
}
