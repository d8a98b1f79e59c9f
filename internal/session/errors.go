package session

import "errors"

var (
	// ErrNotAuthenticated means the operation needs an authenticated session.
	ErrNotAuthenticated = errors.New("session not authenticated")
	// ErrNoChallengePending means SubmitChallenge was called outside CHALLENGE_PENDING.
	ErrNoChallengePending = errors.New("no challenge pending")
	// ErrSetupInProgress means another setup step is still running.
	ErrSetupInProgress = errors.New("setup already in progress")
	// ErrClosed means the session was shut down.
	ErrClosed = errors.New("session closed")
)
