package authority

import (
	"context"
	"crypto"
	"errors"
	"time"
)

type timeoutAuthority struct {
	next    Authority
	timeout time.Duration
}

// WithTimeout bounds every call to next. Calls that outlive the bound fail
// with ErrUnavailable even if next ignores its context.
func WithTimeout(next Authority, timeout time.Duration) Authority {
	if timeout <= 0 {
		return next
	}
	return &timeoutAuthority{next: next, timeout: timeout}
}

func (a *timeoutAuthority) Sign(ctx context.Context, digest []byte, algorithm, keyID string) (*SignResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		res *SignResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.next.Sign(ctx, digest, algorithm, keyID)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, mapContextErr(out.err)
	case <-ctx.Done():
		return nil, ErrUnavailable.Wrap(ctx.Err())
	}
}

func (a *timeoutAuthority) PublicKey(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	key, err := a.next.PublicKey(ctx, keyID)
	return key, mapContextErr(err)
}

func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrUnavailable.Wrap(err)
	}
	return err
}
