package ai

import (
	"context"
	"errors"
	"sort"
	"strings"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var _ adapter.IntentResolver = (*MultiIntentResolver)(nil)

// MultiIntentResolver fronts several providers. The default provider goes
// first; on a retryable failure the remaining providers get a turn before
// the error surfaces. Permanent failures (bad input) are not retried
// elsewhere, a different provider won't fix those.
type MultiIntentResolver struct {
	defaultProvider string
	byProvider      map[string]adapter.IntentResolver
	order           []string
}

func NewMultiIntentResolver(defaultProvider string, byProvider map[string]adapter.IntentResolver) *MultiIntentResolver {
	m := &MultiIntentResolver{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
	}
	if _, ok := byProvider[m.defaultProvider]; ok {
		m.order = append(m.order, m.defaultProvider)
	}
	var rest []string
	for name := range byProvider {
		if name != m.defaultProvider {
			rest = append(rest, name)
		}
	}
	// Fallback order must be stable across runs, not map iteration order.
	sort.Strings(rest)
	m.order = append(m.order, rest...)
	return m
}

func (m *MultiIntentResolver) ClassifyOperation(ctx context.Context, transcript string) (string, error) {
	var lastErr error
	for _, name := range m.order {
		out, err := m.byProvider[name].ClassifyOperation(ctx, transcript)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !fallbackWorthy(err) {
			break
		}
	}
	return "", m.wrap(lastErr)
}

func (m *MultiIntentResolver) Resolve(ctx context.Context, promptContext string) (adapter.IntentDraft, error) {
	var lastErr error
	for _, name := range m.order {
		out, err := m.byProvider[name].Resolve(ctx, promptContext)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !fallbackWorthy(err) {
			break
		}
	}
	return adapter.IntentDraft{}, m.wrap(lastErr)
}

func (m *MultiIntentResolver) wrap(err error) error {
	if err == nil {
		return errors.New("no intent providers configured")
	}
	return err
}

func fallbackWorthy(err error) bool {
	switch domain.ClassifyFailure(err) {
	case domain.FailurePermanent, domain.FailureValidation:
		return false
	default:
		return true
	}
}
