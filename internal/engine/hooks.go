package engine

import "context"

// HookResult tells the engine whether to keep going after a hook.
type HookResult int

const (
	// Continue proceeds with the cycle.
	Continue HookResult = iota

	// Bail stops the current stage. What "stops" means depends on the
	// hook: lifecycle hooks end the cycle, iteration hooks end the
	// preparation loop, and the message hook drops one chunk.
	Bail
)

// Hook observes one engine lifecycle point. A nil hook continues.
type Hook func(ctx context.Context, lc *LoadedContext) (HookResult, error)

// MessageHook observes one generated message chunk before emission.
type MessageHook func(ctx context.Context, lc *LoadedContext, chunk string) (HookResult, error)

// Hooks are the engine's extension points. All fields are optional.
type Hooks struct {
	OnAcknowledging           Hook
	OnAcknowledged            Hook
	OnPreparing               Hook
	OnPreparationIterationStart Hook
	OnPreparationIterationEnd Hook
	OnGeneratingMessages      Hook

	// OnMessageGenerated runs per chunk; Bail drops that chunk only.
	OnMessageGenerated MessageHook

	// OnMessagesEmitted runs during detached post-processing.
	OnMessagesEmitted Hook
}

// run invokes a hook, treating nil as Continue.
func (h Hook) run(ctx context.Context, lc *LoadedContext) (HookResult, error) {
	if h == nil {
		return Continue, nil
	}
	return h(ctx, lc)
}
