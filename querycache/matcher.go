package querycache

import (
	"fmt"

	"github.com/vextjs/monsqlize/cache"
	"github.com/vextjs/monsqlize/internal/filter"
	"go.uber.org/zap"
)

// Matcher decides which registered query shapes a write may have affected.
// It errs toward invalidation: an entry is kept only when the write provably
// cannot change its result, or when the entry's filter is too complex to
// analyse and the complex policy says skip.
type Matcher struct {
	threshold int
	policy    cache.ComplexPolicy
	logger    *zap.Logger
}

// NewMatcher creates a matcher from the invalidation settings.
func NewMatcher(cfg cache.InvalidationConfig, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := cfg.ComplexPolicy
	if policy == "" {
		policy = cache.ComplexSkip
	}
	return &Matcher{threshold: cfg.ComplexityThreshold, policy: policy, logger: logger}
}

// Affected returns the keys among regs that must be invalidated for w.
// It is a no-op unless w.AutoInvalidate is set.
func (m *Matcher) Affected(w cache.WriteDescriptor, regs []*Registration) []string {
	if !w.AutoInvalidate || len(regs) == 0 {
		return nil
	}

	writeSimple := true
	if w.Operation != cache.WriteInsert {
		writeSimple = filter.Analyze(w.Filter).Simple(m.threshold)
	}

	var keys []string
	for _, reg := range regs {
		if m.evaluate(w, reg, writeSimple) {
			keys = append(keys, reg.Key)
		}
	}
	return keys
}

// evaluate reports whether reg must go. Failures invalidate the entry.
func (m *Matcher) evaluate(w cache.WriteDescriptor, reg *Registration, writeSimple bool) (invalidate bool) {
	defer func() {
		if r := recover(); r != nil {
			m.evalFailed(w, reg, fmt.Errorf("panic: %v", r))
			invalidate = true
		}
	}()

	if !reg.Complexity.Simple(m.threshold) || !writeSimple {
		m.logger.Debug("complex filter excluded from precision invalidation",
			zap.String("key", reg.Key),
			zap.Strings("unsupported", reg.Complexity.Unsupported),
			zap.Int("score", reg.Complexity.Score),
			zap.String("policy", string(m.policy)),
		)
		return m.policy == cache.ComplexInvalidate
	}

	cached := reg.Query.Filter
	switch w.Operation {
	case cache.WriteInsert:
		return m.matchesAny(w, reg, w.Documents)

	case cache.WriteUpdate:
		return !filter.Disjoint(cached, w.Filter, filter.ModifiedBy(w.Update))

	case cache.WriteDelete:
		return !filter.Disjoint(cached, w.Filter, nil)

	case cache.WriteReplace:
		if w.Update == nil {
			return true
		}
		if !filter.Disjoint(cached, w.Filter, nil) {
			return true
		}
		return m.matchesAny(w, reg, []cache.Document{w.Update})
	}

	m.evalFailed(w, reg, fmt.Errorf("unknown write operation %q", w.Operation))
	return true
}

func (m *Matcher) matchesAny(w cache.WriteDescriptor, reg *Registration, docs []cache.Document) bool {
	for _, doc := range docs {
		ok, err := filter.Match(reg.Query.Filter, doc)
		if err != nil {
			m.evalFailed(w, reg, err)
			return true
		}
		if ok {
			return true
		}
	}
	return false
}

func (m *Matcher) evalFailed(w cache.WriteDescriptor, reg *Registration, err error) {
	evalErr := &cache.Error{Code: cache.CodeInvalidationEval, Op: string(w.Operation), Key: reg.Key, Err: err}
	m.logger.Warn("invalidation evaluation failed, invalidating entry",
		zap.String("namespace", w.Namespace.String()),
		zap.Error(evalErr),
	)
}
