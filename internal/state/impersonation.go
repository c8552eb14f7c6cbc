package state

import (
	"errors"
	"time"

	"github.com/foreman-pm/foreman/internal/identity"
)

var (
	// ErrAlreadyImpersonating indicates a session is already active.
	ErrAlreadyImpersonating = errors.New("state: impersonation already active")
	// ErrImpersonationDenied indicates the original identity may not
	// impersonate the target.
	ErrImpersonationDenied = errors.New("state: impersonation not permitted")
	// ErrNotImpersonating indicates there is no session to stop.
	ErrNotImpersonating = errors.New("state: not impersonating")
)

// ImpersonationSession describes who is acting as whom.
type ImpersonationSession struct {
	Active    bool               `json:"active"`
	Original  *identity.Identity `json:"original,omitempty"`
	Target    *identity.Identity `json:"target,omitempty"`
	StartedAt time.Time          `json:"started_at,omitempty"`
}

// Impersonation lets an admin act as another identity and return to their
// own afterwards.
type Impersonation struct {
	*Provider[ImpersonationSession]
	now func() time.Time
}

// NewImpersonation constructs an inactive session.
func NewImpersonation() *Impersonation {
	return &Impersonation{Provider: NewProvider(ImpersonationSession{}, nil), now: time.Now}
}

// Start begins acting as target.
func (i *Impersonation) Start(original, target identity.Identity) error {
	if !original.CanImpersonate() || original.ID == target.ID || target.ID == "" {
		return ErrImpersonationDenied
	}
	var err error
	i.Update(func(s ImpersonationSession) ImpersonationSession {
		if s.Active {
			err = ErrAlreadyImpersonating
			return s
		}
		return ImpersonationSession{Active: true, Original: &original, Target: &target, StartedAt: i.now().UTC()}
	})
	return err
}

// Stop ends the session and returns the original identity.
func (i *Impersonation) Stop() (identity.Identity, error) {
	var (
		original identity.Identity
		err      error
	)
	i.Update(func(s ImpersonationSession) ImpersonationSession {
		if !s.Active || s.Original == nil {
			err = ErrNotImpersonating
			return s
		}
		original = *s.Original
		return ImpersonationSession{}
	})
	return original, err
}

// Effective returns the identity to act as for an authenticated identity.
func (i *Impersonation) Effective(authenticated identity.Identity) (identity.Identity, bool) {
	s := i.Get()
	if !s.Active || s.Original == nil || s.Target == nil || s.Original.ID != authenticated.ID {
		return authenticated, false
	}
	return *s.Target, true
}
