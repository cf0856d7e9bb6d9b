package assign

import "errors"

// ErrDispatchFailed is returned when the asynchronous queue rejected the
// recomputation and the synchronous fallback also failed. The task keeps
// its previous assignment state (there is no partial commit) and the
// caller should treat the condition as retryable.
var ErrDispatchFailed = errors.New("assignment dispatch failed")
