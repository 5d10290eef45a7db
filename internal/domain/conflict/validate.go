package conflict

import (
	"fmt"

	"github.com/Strob0t/syncbridge/internal/domain"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionUseLocal, ResolutionUseExternal, ResolutionMerge, ResolutionManual:
		return true
	}
	return false
}

// Validate checks the resolve request. Merge and manual resolutions carry the
// data to apply; use_local and use_external may override it.
func (r *ResolveRequest) Validate() error {
	if !r.Resolution.Valid() {
		return fmt.Errorf("%w: invalid resolution %q", domain.ErrValidation, r.Resolution)
	}
	if (r.Resolution == ResolutionMerge || r.Resolution == ResolutionManual) && len(r.ResolvedData) == 0 {
		return fmt.Errorf("%w: resolution %q requires resolved_data", domain.ErrValidation, r.Resolution)
	}
	return nil
}

// ParseState parses a listing filter, defaulting to open.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "":
		return StateOpen, nil
	case StateOpen, StateResolved, StateAll:
		return State(s), nil
	}
	return "", fmt.Errorf("%w: invalid state %q", domain.ErrValidation, s)
}
