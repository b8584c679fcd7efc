package dashboard

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoSimulation is returned by Invite when no simulation was picked.
var ErrNoSimulation = errors.New("no simulation selected")

// CooldownError is returned by Resend while a candidate is cooling down.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("Please wait %ds before resending this invite.", int((e.Remaining+time.Second-1)/time.Second))
}

const (
	msgProfileDefault     = "Unable to load your profile right now."
	msgSimulationsDefault = "Failed to load simulations."
	msgCandidatesDefault  = "Failed to load candidates."
	msgInviteDefault      = "Failed to invite candidate."
	msgResendDefault      = "Failed to resend invite."
)
