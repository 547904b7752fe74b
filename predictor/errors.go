package predictor

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrServiceUnavailable is returned for valid readings while no model is
// loaded. Callers should report it separately from validation failures.
var ErrServiceUnavailable = errors.New("model not loaded: service unavailable")

// ValidationError identifies the request field that violates the feature
// contract. Field is the canonical field name.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}
