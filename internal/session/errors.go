package session

// Typed failures surfaced by the session core. Handlers map these onto
// HTTP statuses; nothing here is swallowed except the deliberate
// soft-failures documented on the scheduler and action processor.

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// InvalidStateError reports an operation that is illegal for the
// session's current status, including bad state-machine transitions.
type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string { return e.Message }

type InvalidInputError struct {
	Message string
	Fields  map[string]string
}

func (e *InvalidInputError) Error() string { return e.Message }

// BlockedError reports a fast-forward rejected because a
// non-fast-forwardable action is still in progress.
type BlockedError struct {
	Message string
}

func (e *BlockedError) Error() string { return e.Message }

// ServiceUnavailableError propagates a dialogue-oracle failure. The
// operation that hit it persists nothing.
type ServiceUnavailableError struct {
	Message string
	Err     error
}

func (e *ServiceUnavailableError) Error() string { return e.Message }
func (e *ServiceUnavailableError) Unwrap() error { return e.Err }
