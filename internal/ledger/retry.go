package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"launchpad-ledger/internal/storage"
)

// Conflict retry defaults.
const (
	DefaultConflictAttempts = 5
	defaultConflictDelay    = 2 * time.Millisecond
	maxConflictDelay        = 50 * time.Millisecond
)

// RetryOnConflict re-runs unit while it fails with an optimistic-lock
// conflict, up to attempts times. unit must re-read everything it writes.
// onRetry, if set, is called before every retry.
func RetryOnConflict(ctx context.Context, op string, attempts uint, unit func() error, onRetry func()) error {
	if attempts == 0 {
		attempts = DefaultConflictAttempts
	}

	return retry.Do(unit,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(defaultConflictDelay),
		retry.MaxDelay(maxConflictDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(defaultConflictDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isConflict),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Debug().
				Str("op", op).
				Uint("attempt", n+1).
				Uint("max_attempts", attempts).
				Err(err).
				Msg("version conflict, retrying unit of work")
			if onRetry != nil {
				onRetry()
			}
		}))
}

func isConflict(err error) bool {
	if errors.Is(err, storage.ErrConflict) {
		return true
	}
	return KindOf(err) == KindConflict
}
