package service

import (
	"errors"

	"tunnel-agent/controlplane/internal/repository"
)

type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string {
	return e.Msg
}

func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// IsUnavailable reports a request that may succeed later, such as a lease
// request while the pool is exhausted.
func IsUnavailable(err error) bool {
	return errors.Is(err, repository.ErrNoFreeLease)
}
