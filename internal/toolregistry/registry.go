// Package toolregistry implements the ToolRegistry contract: a catalog of
// ToolDescriptors loaded at startup, schema-validated invocation with
// classified errors, exponential-backoff retry for transient failures, and
// per-(session, tool) serialization for non-idempotent tools.
package toolregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kandev/orcad/pkg/session"
)

// Invoker performs the actual side effect for one tool. Implementations are
// registered per tool name; the registry owns validation, retry, and
// serialization around the call.
type Invoker func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)

// Registry holds the declarative tool catalog and mediates every invocation.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]session.ToolDescriptor
	invokers    map[string]Invoker
	locks       *keyedLocks

	sources []Source

	invocationsMu sync.Mutex
	invocations   map[string]context.CancelFunc
}

// Source supplements the static catalog with tool descriptors discovered at
// runtime (e.g. a live MCP server).
type Source interface {
	ListTools(ctx context.Context) ([]session.ToolDescriptor, error)
	Invoke(ctx context.Context, name string, inputs map[string]interface{}) (map[string]interface{}, error)
}

// NewRegistry builds an empty registry. Register static descriptors with
// Register; attach dynamic sources with AddSource.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]session.ToolDescriptor),
		invokers:    make(map[string]Invoker),
		locks:       newKeyedLocks(),
		invocations: make(map[string]context.CancelFunc),
	}
}

// Register adds a statically declared tool descriptor and its invoker.
func (r *Registry) Register(desc session.ToolDescriptor, invoker Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[desc.Name] = desc
	r.invokers[desc.Name] = invoker
}

// AddSource attaches a dynamic tool source (e.g. MCP).
func (r *Registry) AddSource(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)
}

// Describe returns the descriptor for name.
func (r *Registry) Describe(ctx context.Context, name string) (session.ToolDescriptor, error) {
	r.mu.RLock()
	desc, ok := r.descriptors[name]
	r.mu.RUnlock()
	if ok {
		return desc, nil
	}
	for _, src := range r.sourcesSnapshot() {
		tools, err := src.ListTools(ctx)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if t.Name == name {
				return t, nil
			}
		}
	}
	return session.ToolDescriptor{}, ErrUnknownTool
}

// ListForPolicy returns every descriptor whose name is in allowed, drawing
// from both the static catalog and any attached dynamic sources.
func (r *Registry) ListForPolicy(ctx context.Context, allowed []string) ([]session.ToolDescriptor, error) {
	permitted := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		permitted[name] = true
	}

	out := make([]session.ToolDescriptor, 0, len(allowed))
	r.mu.RLock()
	for name, desc := range r.descriptors {
		if permitted[name] {
			out = append(out, desc)
		}
	}
	r.mu.RUnlock()

	for _, src := range r.sourcesSnapshot() {
		tools, err := src.ListTools(ctx)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if permitted[t.Name] {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (r *Registry) sourcesSnapshot() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// InvokeRequest carries the context a call needs beyond the tool name and
// inputs: the session it runs in (for serialization) and an invocation ID
// the caller can later pass to Cancel.
type InvokeRequest struct {
	SessionID    string
	InvocationID string
	Tool         string
	Inputs       map[string]interface{}
}

// Invoke validates inputs, applies the timeout and retry policy, and
// serializes the call per (session, tool) when the descriptor is marked
// non-idempotent.
func (r *Registry) Invoke(ctx context.Context, req InvokeRequest) (map[string]interface{}, error) {
	desc, err := r.Describe(ctx, req.Tool)
	if err != nil {
		return nil, newError(KindValidation, err)
	}

	if desc.InputSchema != nil {
		if err := validateAgainstSchema(desc.InputSchema, req.Inputs); err != nil {
			return nil, newError(KindValidation, err)
		}
	}

	invoke := r.invokerFor(ctx, req.Tool)
	if invoke == nil {
		return nil, newError(KindValidation, fmt.Errorf("%s: %w", req.Tool, ErrUnknownTool))
	}

	callCtx, cancel := context.WithCancel(ctx)
	if req.InvocationID != "" {
		r.invocationsMu.Lock()
		r.invocations[req.InvocationID] = cancel
		r.invocationsMu.Unlock()
		defer func() {
			r.invocationsMu.Lock()
			delete(r.invocations, req.InvocationID)
			r.invocationsMu.Unlock()
		}()
	} else {
		defer cancel()
	}

	run := func() (map[string]interface{}, error) {
		return r.invokeOnce(callCtx, desc, invoke, req.Inputs)
	}

	if !desc.Idempotent {
		var out map[string]interface{}
		var runErr error
		r.locks.withLock(req.SessionID+"|"+req.Tool, func() {
			out, runErr = r.withRetry(callCtx, desc, run)
		})
		return out, runErr
	}

	return r.withRetry(callCtx, desc, run)
}

func (r *Registry) invokerFor(ctx context.Context, name string) Invoker {
	r.mu.RLock()
	inv, ok := r.invokers[name]
	r.mu.RUnlock()
	if ok {
		return inv
	}
	for _, src := range r.sourcesSnapshot() {
		src := src
		return func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
			return src.Invoke(ctx, name, inputs)
		}
	}
	return nil
}

func (r *Registry) invokeOnce(ctx context.Context, desc session.ToolDescriptor, invoke Invoker, inputs map[string]interface{}) (map[string]interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, toolTimeout(desc))
	defer cancel()

	out, err := invoke(callCtx, inputs)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, newError(KindTimeout, err)
		}
		if callCtx.Err() == context.Canceled {
			return nil, newError(KindCancelled, err)
		}
		return nil, classify(err)
	}
	return out, nil
}

func toolTimeout(desc session.ToolDescriptor) time.Duration {
	if desc.RetryPolicy.MaxInterval > 0 {
		return desc.RetryPolicy.MaxInterval
	}
	return 30 * time.Second
}

// classify wraps an unclassified invoker error as transient by default, so
// unexpected failures get a bounded retry instead of silently propagating
// as permanent.
func classify(err error) error {
	var toolErr *Error
	if ok := asError(err, &toolErr); ok {
		return toolErr
	}
	return newError(KindTransient, err)
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// withRetry retries transient failures with exponential backoff and
// jitter, bounded by the descriptor's retry policy.
func (r *Registry) withRetry(ctx context.Context, desc session.ToolDescriptor, run func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	policy := desc.RetryPolicy
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		bo.MaxInterval = policy.MaxInterval
	}
	bo.MaxElapsedTime = 0

	var out map[string]interface{}
	var lastErr error
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		out, err = run()
		if err == nil {
			return nil
		}
		lastErr = err
		var toolErr *Error
		if asError(err, &toolErr) && !toolErr.Retryable() {
			return backoff.Permanent(err)
		}
		if attempt >= maxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		var toolErr *Error
		if asError(lastErr, &toolErr) {
			if toolErr.Kind == KindTransient && attempt >= maxAttempts {
				return nil, newError(KindPermanent, toolErr.Err)
			}
			return nil, toolErr
		}
		return nil, newError(KindPermanent, err)
	}
	return out, nil
}

// Cancel signals cooperative cancellation for an in-flight invocation.
// Cancellation is best-effort: the registry cancels the call's context and
// returns immediately rather than blocking for an acknowledgement, since
// Go's context cancellation has no distinct grace window of its own.
func (r *Registry) Cancel(invocationID string) error {
	r.invocationsMu.Lock()
	cancel, ok := r.invocations[invocationID]
	r.invocationsMu.Unlock()
	if !ok {
		return ErrNotFound
	}
	cancel()
	return nil
}
