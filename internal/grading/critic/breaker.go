package critic

import (
	"context"
	"errors"

	"codeassess/internal/grading"
	appErr "codeassess/pkg/errors"

	"github.com/zeromicro/go-zero/core/breaker"
)

// BreakerProvider stops calling a failing provider for a while.
// An open breaker is reported as an error so the pipeline degrades to the neutral score.
type BreakerProvider struct {
	name  string
	inner grading.CritiqueProvider
	brk   breaker.Breaker
}

// NewBreakerProvider wraps inner with a circuit breaker named after the provider.
func NewBreakerProvider(name string, inner grading.CritiqueProvider) *BreakerProvider {
	return &BreakerProvider{
		name:  name,
		inner: inner,
		brk:   breaker.NewBreaker(breaker.WithName("critique-" + name)),
	}
}

// Critique implements grading.CritiqueProvider.
func (p *BreakerProvider) Critique(ctx context.Context, sub grading.Submission, taskDescription string) (grading.Critique, error) {
	var out grading.Critique
	err := p.brk.Do(func() error {
		critique, err := p.inner.Critique(ctx, sub, taskDescription)
		if err != nil {
			return err
		}
		out = critique
		return nil
	})
	if errors.Is(err, breaker.ErrServiceUnavailable) {
		return grading.Critique{}, appErr.Wrapf(err, appErr.GradingStageFailed, "critique provider %s circuit is open", p.name)
	}
	if err != nil {
		return grading.Critique{}, err
	}
	return out, nil
}
