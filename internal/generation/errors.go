package generation

import "errors"

var (
	// ErrNoGenerator is returned by a Router with nothing to route to.
	ErrNoGenerator = errors.New("no generator for stage")

	// ErrEmptyResponse means the model returned no choices.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrToolRoundsExceeded means the model kept requesting tools past the
	// configured round limit.
	ErrToolRoundsExceeded = errors.New("tool rounds exceeded")
)
