package league

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrActiveRound is returned by a Store when a guild already has a round
	// that is not completed.
	ErrActiveRound = errors.New("guild already has an active round")
)

// Rejection is a user-facing refusal of an inbound action. Kind is one of
// ErrValidation or ErrNotFound; Next names the next legal action, if any.
type Rejection struct {
	Kind   error
	Reason string
	Next   string
}

func (r *Rejection) Error() string {
	if r.Next == "" {
		return r.Reason
	}
	return r.Reason + "; " + r.Next
}

func (r *Rejection) Unwrap() error {
	return r.Kind
}

func reject(kind error, reason, next string) error {
	return &Rejection{Kind: kind, Reason: reason, Next: next}
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}
