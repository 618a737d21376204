package model

import "errors"

// Error taxonomy for the retrieval pipeline. Everything below the coordinator
// is recovered locally and converted into a "method contributed nothing"
// signal; only ErrAllMethodsFailed reaches the caller as an error.
var (
	// ErrAllMethodsFailed indicates zero method searchers succeeded for a
	// request. Fatal for that request: the caller must be able to tell
	// "everything broke" apart from "nothing found".
	ErrAllMethodsFailed = errors.New("all retrieval methods failed")

	// ErrCircuitOpen indicates a call was short-circuited without contacting
	// the backend.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrBackendMalformed indicates a backend returned a response the engine
	// could not interpret. Counts as a failure toward the circuit breaker.
	ErrBackendMalformed = errors.New("malformed backend response")

	// ErrCacheUnavailable indicates a cache tier could not be consulted.
	// Always treated as a miss, never fatal.
	ErrCacheUnavailable = errors.New("cache unavailable")
)
