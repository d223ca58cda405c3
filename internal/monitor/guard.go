package monitor

import (
	"github.com/rs/zerolog"
)

// attempt runs a best-effort remote call. Failures and panics are logged
// under op and never escape; the result reports whether fn succeeded.
func attempt(log zerolog.Logger, op string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("op", op).Interface("panic", r).Msg("operation panicked")
			ok = false
		}
	}()

	if err := fn(); err != nil {
		log.Error().Err(err).Str("op", op).Msg("operation failed")
		return false
	}
	return true
}
