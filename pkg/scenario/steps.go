package scenario

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// WaitFor is the explicit wait contract: poll cond until it holds or timeout
// expires, then fail with an AssertionFailure naming the step. Errors from
// cond are treated as "not yet" and reported if the wait expires.
func WaitFor(ctx context.Context, env *Env, step string, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	if timeout <= 0 {
		timeout = env.ExpectTimeout()
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(env.cfg.PollInterval)
	defer ticker.Stop()

	var last error
	for {
		ok, err := cond(waitCtx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			last = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &domain.AssertionFailure{Step: step, Timeout: timeout, Err: last}
		case <-ticker.C:
		}
	}
}

// Expect waits up to timeout for the target to be visible.
func Expect(ctx context.Context, env *Env, target domain.Target, timeout time.Duration) error {
	p, err := env.Page(ctx)
	if err != nil {
		return err
	}
	return WaitFor(ctx, env, fmt.Sprintf("expect %s to be visible", target), timeout, func(ctx context.Context) (bool, error) {
		return p.Visible(ctx, target)
	})
}

// ExpectHidden waits up to timeout for the target to disappear.
func ExpectHidden(ctx context.Context, env *Env, target domain.Target, timeout time.Duration) error {
	p, err := env.Page(ctx)
	if err != nil {
		return err
	}
	return WaitFor(ctx, env, fmt.Sprintf("expect %s to be hidden", target), timeout, func(ctx context.Context) (bool, error) {
		visible, err := p.Visible(ctx, target)
		return !visible, err
	})
}

// ExpectBodyMatches waits up to timeout for the body text to match re.
func ExpectBodyMatches(ctx context.Context, env *Env, re *regexp.Regexp, timeout time.Duration) error {
	p, err := env.Page(ctx)
	if err != nil {
		return err
	}
	return WaitFor(ctx, env, fmt.Sprintf("expect body to match %s", re), timeout, func(ctx context.Context) (bool, error) {
		text, err := p.Text(ctx)
		return err == nil && re.MatchString(text), err
	})
}

// ExpectValueMatches waits up to timeout for a control's value to match re.
func ExpectValueMatches(ctx context.Context, env *Env, target domain.Target, re *regexp.Regexp, timeout time.Duration) error {
	p, err := env.Page(ctx)
	if err != nil {
		return err
	}
	var last string
	err = WaitFor(ctx, env, fmt.Sprintf("expect %s to have value matching %s", target, re), timeout, func(ctx context.Context) (bool, error) {
		v, err := p.Value(ctx, target)
		last = v
		return err == nil && re.MatchString(v), err
	})
	var af *domain.AssertionFailure
	if errors.As(err, &af) && af.Err == nil {
		af.Err = fmt.Errorf("last value %q", last)
	}
	return err
}

// VisibleNow reports whether target is visible right now, without waiting.
// It is meant for branches on optional UI, never for assertions.
func VisibleNow(ctx context.Context, env *Env, target domain.Target) bool {
	p, err := env.Page(ctx)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, env.ActionTimeout())
	defer cancel()
	ok, err := p.Visible(ctx, target)
	return err == nil && ok
}

// Goto navigates within the action timeout and returns the document status.
func Goto(ctx context.Context, env *Env, url string) (int, error) {
	p, err := env.Page(ctx)
	if err != nil {
		return 0, err
	}
	actx, cancel := context.WithTimeout(ctx, env.ActionTimeout())
	defer cancel()

	status, err := p.Goto(actx, url)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return status, &domain.AssertionFailure{Step: "goto " + url, Timeout: env.ActionTimeout(), Err: err}
	}
	env.Logger().Debug("navigated", "url", url, "status", status)
	return status, nil
}

// GotoService navigates to a path of a service.
func GotoService(ctx context.Context, env *Env, service, path string) (int, error) {
	return Goto(ctx, env, env.URL(service, path))
}

// act waits for the target to be actionable within the action timeout, then performs fn.
func act(ctx context.Context, env *Env, verb string, target domain.Target, fn func(context.Context, ports.Page) error) error {
	p, err := env.Page(ctx)
	if err != nil {
		return err
	}
	step := fmt.Sprintf("%s %s", verb, target)
	if err := WaitFor(ctx, env, step, env.ActionTimeout(), func(ctx context.Context) (bool, error) {
		return p.Visible(ctx, target)
	}); err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, env.ActionTimeout())
	defer cancel()
	if err := fn(actx, p); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.AssertionFailure{Step: step, Timeout: env.ActionTimeout(), Err: err}
	}
	return nil
}

// Click waits for the target and clicks it.
func Click(ctx context.Context, env *Env, target domain.Target) error {
	return act(ctx, env, "click", target, func(ctx context.Context, p ports.Page) error {
		return p.Click(ctx, target)
	})
}

// Fill waits for the target and replaces its value.
func Fill(ctx context.Context, env *Env, target domain.Target, value string) error {
	return act(ctx, env, "fill", target, func(ctx context.Context, p ports.Page) error {
		return p.Fill(ctx, target, value)
	})
}

// Check waits for a checkbox and ensures it is checked.
func Check(ctx context.Context, env *Env, target domain.Target) error {
	return act(ctx, env, "check", target, func(ctx context.Context, p ports.Page) error {
		return p.Check(ctx, target)
	})
}

// ExpectStatusBelow asserts the document status of a navigation.
func ExpectStatusBelow(url string, status, limit int) error {
	if status > 0 && status < limit {
		return nil
	}
	return &domain.AssertionFailure{
		Step: fmt.Sprintf("expect status of %s below %d", url, limit),
		Err:  fmt.Errorf("got %d", status),
	}
}

// Snapshot reads the authentication material of the attempt's page.
func Snapshot(ctx context.Context, env *Env) (domain.Snapshot, error) {
	p, err := env.Page(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, env.ActionTimeout())
	defer cancel()
	return p.Snapshot(ctx)
}
