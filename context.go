package pgaudit

import (
	"context"
	"sync"
)

// Context is the ambient audit context propagated alongside a
// context.Context: acting principal, network identifiers, the
// transaction id, and free-form metadata.
type Context struct {
	UserID        string
	IPAddress     string
	UserAgent     string
	TransactionID string
	Metadata      map[string]any
}

// scopeKey is the unexported key under which the current scope's
// *scopeContext lives in a context.Context value.
type scopeKey struct{}

// skipKey marks a context so the interceptor bypasses capture for the
// statements it spans (e.g. the writer's own INSERT into auditTable).
type skipKey struct{}

// scopeContext is the mutable binding a scope's context.Context value
// points at. MergeContext mutates it in place so sibling goroutines
// sharing the same context.Context observe the update on their next
// read — the async-scoped propagation Go's context.Context alone
// cannot give you, since a value installed once is otherwise
// immutable for the rest of that context's lifetime.
type scopeContext struct {
	mu  sync.Mutex
	ctx Context
}

func (s *scopeContext) snapshot() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneContext(s.ctx)
}

func (s *scopeContext) merge(partial Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = mergeScope(s.ctx, partial)
}

// WithContext binds ctx's effective audit context to c for the
// remainder of the call tree rooted at the returned context.Context.
// Nested calls shadow: a WithContext inside another WithContext
// installs a fresh binding that does not affect the outer one.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scopeContext{ctx: cloneContext(c)})
}

// RunWithContext binds c for the synchronous and asynchronous
// continuation of fn. Goroutines spawned from inside fn and handed
// the returned/derived context.Context observe the same binding.
func RunWithContext(ctx context.Context, c Context, fn func(context.Context) error) error {
	return fn(WithContext(ctx, c))
}

// MergeContext updates the current binding in place via right-biased
// merge (see mergeScope). It is a no-op if ctx carries no binding.
func MergeContext(ctx context.Context, partial Context) {
	if s, ok := ctx.Value(scopeKey{}).(*scopeContext); ok {
		s.merge(partial)
	}
}

// GetContext returns the effective binding for ctx, or false if ctx
// carries none.
func GetContext(ctx context.Context) (Context, bool) {
	s, ok := ctx.Value(scopeKey{}).(*scopeContext)
	if !ok {
		return Context{}, false
	}
	return s.snapshot(), true
}

// WithSkip marks ctx so the interceptor passes statements through
// without capture. Used internally by the writer's own flush so audit
// INSERTs never recursively audit themselves if the audit table lives
// on the same wrapped handle.
func WithSkip(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey{}, true)
}

func isSkipped(ctx context.Context) bool {
	v, _ := ctx.Value(skipKey{}).(bool)
	return v
}

func cloneContext(c Context) Context {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// mergeScope right-biases partial over base: non-zero/non-nil fields
// in partial win, forbidden metadata keys are dropped, and metadata
// maps merge key-by-key rather than replacing wholesale.
func mergeScope(base, partial Context) Context {
	out := base
	if partial.UserID != "" {
		out.UserID = partial.UserID
	}
	if partial.IPAddress != "" {
		out.IPAddress = partial.IPAddress
	}
	if partial.UserAgent != "" {
		out.UserAgent = partial.UserAgent
	}
	if partial.TransactionID != "" {
		out.TransactionID = partial.TransactionID
	}
	if len(partial.Metadata) > 0 {
		out.Metadata = mergeMetadata(out.Metadata, partial.Metadata)
	}
	return out
}

// isForbiddenMetadataKey reports whether k is one of a small set of
// reserved keys dropped unconditionally from merged metadata.
func isForbiddenMetadataKey(k string) bool {
	switch k {
	case "__proto__", "constructor", "prototype":
		return true
	default:
		return false
	}
}

// sanitizeMetadata strips forbidden keys and nil values from m,
// returning nil (rather than an empty, non-nil map) once nothing is
// left — so a layer that contributes nothing collapses cleanly instead
// of forcing its neighbors into a non-nil result.
func sanitizeMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isForbiddenMetadataKey(k) || v == nil {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// mergeMetadata merges layers key-by-key, later layers winning over
// earlier ones (right-biased), after stripping forbidden keys and nil
// values from each. The result is nil iff every layer is empty after
// stripping, so a fully-absent metadata persists as SQL null rather
// than an empty JSON object.
func mergeMetadata(layers ...map[string]any) map[string]any {
	var merged map[string]any
	for _, layer := range layers {
		clean := sanitizeMetadata(layer)
		if len(clean) == 0 {
			continue
		}
		if merged == nil {
			merged = make(map[string]any, len(clean))
		}
		for k, v := range clean {
			merged[k] = v
		}
	}
	return merged
}
