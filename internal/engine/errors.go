package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures for the API boundary. The handler layer
// maps kinds to HTTP statuses; the engine itself never writes HTTP.
type Kind int

const (
	// KindValidation — bad input, rejected before any lock is taken.
	KindValidation Kind = iota

	// KindState — lifecycle violation, rejected after the state check,
	// nothing mutated.
	KindState

	// KindResource — insufficient credits/shares or an exposure cap,
	// rejected inside the critical section with no partial mutation.
	KindResource

	// KindConcurrency — lock acquisition timed out; nothing was mutated,
	// safe to retry.
	KindConcurrency

	// KindNotFound — unknown market or user.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindConcurrency:
		return "concurrency"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

var (
	// ErrInvalidQuantity is returned when shares is zero or negative.
	ErrInvalidQuantity = errors.New("engine: shares must be positive")

	// ErrInvalidSide is returned for a side other than YES or NO.
	ErrInvalidSide = errors.New("engine: side must be YES or NO")

	// ErrQuantityTooSmall is returned when a buy's cost rounds to zero
	// at the minimum credit unit.
	ErrQuantityTooSmall = errors.New("engine: share quantity too small to price")

	// ErrMarketNotTradeable is returned when buying/selling/quoting on a
	// locked or resolved market.
	ErrMarketNotTradeable = errors.New("engine: market is not open for trading")

	// ErrMarketNotActive is returned when locking a market that has
	// already left the active state.
	ErrMarketNotActive = errors.New("engine: market is not active")

	// ErrMarketNotLocked is returned when resolving a market that has not
	// been locked first.
	ErrMarketNotLocked = errors.New("engine: market must be locked before resolving")

	// ErrAlreadyResolved is returned when resolving a resolved market.
	// The second call performs no payouts.
	ErrAlreadyResolved = errors.New("engine: market already resolved")

	// ErrInsufficientCredits is returned when a buy exceeds the user's
	// influence-credit balance.
	ErrInsufficientCredits = errors.New("engine: insufficient influence credits")

	// ErrInsufficientShares is returned when a sell exceeds the user's
	// position.
	ErrInsufficientShares = errors.New("engine: insufficient shares")

	// ErrBusy is returned when a market or balance lock could not be
	// acquired within the configured timeout. Retryable.
	ErrBusy = errors.New("engine: busy, retry")
)

// Error wraps a sentinel with its taxonomy Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the taxonomy kind from an error returned by the engine.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func validationErr(err error) error  { return &Error{Kind: KindValidation, Err: err} }
func stateErr(err error) error       { return &Error{Kind: KindState, Err: err} }
func resourceErr(err error) error    { return &Error{Kind: KindResource, Err: err} }
func concurrencyErr(err error) error { return &Error{Kind: KindConcurrency, Err: err} }
func notFoundErr(err error) error    { return &Error{Kind: KindNotFound, Err: err} }
