package candidate

import "errors"

// Local failures. Their text is shown to the candidate as is.
var (
	ErrEmailRequired      = errors.New("Email is required to continue.")                             //nolint:staticcheck // user-facing sentence
	ErrMissingInviteToken = errors.New("Missing invite token.")                                      //nolint:staticcheck // user-facing sentence
	ErrMissingLogin       = errors.New("Missing login session. Please sign in again.")               //nolint:staticcheck // user-facing sentence
	ErrNoCurrentTask      = errors.New("There is no task to submit right now.")                      //nolint:staticcheck // user-facing sentence
	ErrMissingSession     = errors.New("Missing candidate session. Please reopen your invite link.") //nolint:staticcheck // user-facing sentence
	ErrEmptyText          = errors.New("Please enter an answer before submitting.")                  //nolint:staticcheck // user-facing sentence
	ErrEmptyCode          = errors.New("Please write some code before submitting.")                  //nolint:staticcheck // user-facing sentence

	// ErrSubmitPending is returned when a submit is already in flight; the
	// second attempt does nothing.
	ErrSubmitPending = errors.New("submit already in flight")
)

const (
	msgAuthLoad         = "Unable to load your login session. Please sign in again."
	msgBootstrapDefault = "Something went wrong loading your simulation."
	msgVerifyDefault    = "Unable to verify your email right now. Please try again."
	msgTaskDefault      = "Something went wrong loading your current task."
	msgSubmitDefault    = "Something went wrong submitting your task."
)
