// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package palmyra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/blinklabs-io/palmyra/internal/clock"
)

const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 10 * time.Second
)

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrTransientResult marks a build whose reported hash signals a
	// rejected broadcast
	ErrTransientResult = errors.New("transient build result")
)

// RetryPolicy bounds how often a settlement build is attempted
type RetryPolicy struct {
	Logger      *slog.Logger
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Sleep       clock.SleepFunc
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Logger == nil {
		p.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryMaxDelay
	}
	if p.Sleep == nil {
		p.Sleep = clock.SleepWithContext
	}
	return p
}

// Backoff returns the delay following the given 1-based attempt
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(delay, p.MaxDelay)
}

// IsTransientHash reports whether a build result should be retried. An empty
// hash or one carrying a "bad request" marker means the broadcast layer
// rejected the transaction.
func IsTransientHash(hash string) bool {
	if hash == "" {
		return true
	}
	return strings.Contains(strings.ToLower(hash), "bad request")
}

// RetryBuild runs fn until it yields a usable result or the policy gives up.
// Each attempt rebuilds from scratch so stale wallet outputs are reselected.
func RetryBuild[T any](
	ctx context.Context,
	policy RetryPolicy,
	op string,
	fn func(ctx context.Context) (T, error),
	hashOf func(T) string,
) (T, error) {
	policy = policy.withDefaults()
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			hash := hashOf(result)
			if !IsTransientHash(hash) {
				return result, nil
			}
			err = fmt.Errorf("%w: %q", ErrTransientResult, hash)
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}
		delay := policy.Backoff(attempt)
		policy.Logger.Warn(
			fmt.Sprintf("%s attempt %d failed, retrying in %s", op, attempt, delay),
			"error", err,
		)
		if err := policy.Sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w (last error: %w)", op, err, lastErr)
		}
	}
	return zero, fmt.Errorf(
		"%w: %s after %d attempts: %w",
		ErrRetriesExhausted,
		op,
		policy.MaxAttempts,
		lastErr,
	)
}
