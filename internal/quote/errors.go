package quote

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a quote fetch did not produce a quote.
type FailureKind int

const (
	// Unconfigured means no usable API key; no network call was attempted
	// or the feed rejected the key.
	Unconfigured FailureKind = iota + 1
	// NotFound means the feed returned no price for the symbol.
	NotFound
	// Transport covers network, status and decoding errors.
	Transport
	// RateLimited means the feed signalled quota exhaustion.
	RateLimited
)

func (k FailureKind) String() string {
	switch k {
	case Unconfigured:
		return "unconfigured"
	case NotFound:
		return "not_found"
	case Transport:
		return "transport"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against a *FetchError of the same kind.
var (
	ErrUnconfigured = errors.New("quote feed not configured")
	ErrNotFound     = errors.New("quote not found")
	ErrTransport    = errors.New("quote transport failure")
	ErrRateLimited  = errors.New("quote feed rate limited")
)

func (k FailureKind) sentinel() error {
	switch k {
	case Unconfigured:
		return ErrUnconfigured
	case NotFound:
		return ErrNotFound
	case Transport:
		return ErrTransport
	case RateLimited:
		return ErrRateLimited
	default:
		return nil
	}
}

// FetchError is the uniform failure returned by Client implementations.
type FetchError struct {
	Kind   FailureKind
	Symbol string
	Err    error
}

// Fail builds a *FetchError. err may be nil.
func Fail(kind FailureKind, symbol string, err error) *FetchError {
	return &FetchError{Kind: kind, Symbol: symbol, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quote %s: %s: %v", e.Symbol, e.Kind, e.Err)
	}
	return fmt.Sprintf("quote %s: %s", e.Symbol, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) and friends match on the kind.
func (e *FetchError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf extracts the failure kind of err. Errors that are not a
// *FetchError are treated as Transport failures; context errors included.
func KindOf(err error) FailureKind {
	if err == nil {
		return 0
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Transport
}
