package asyncload

import "errors"

// ErrAlreadyPending is returned by Submit when id already has a task that
// has not finished running. Once that task has finished, the id can be
// submitted again whether or not TryFinalize has consumed its result.
var ErrAlreadyPending = errors.New("asyncload: id already has a pending load")
