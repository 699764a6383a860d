package broker

import "errors"

// ErrUnavailable marks connection/timeout-class broker failures worth
// retrying under internal/retry's RuntimeClientInit-style policy, as
// opposed to a malformed-envelope error which is logical and must not
// be retried.
var ErrUnavailable = errors.New("broker unavailable")
