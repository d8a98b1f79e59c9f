package session

// State is the lifecycle state of a session.
type State string

const (
	StateUnauthenticated  State = "UNAUTHENTICATED"
	StateAuthenticating   State = "AUTHENTICATING"
	StateChallengePending State = "CHALLENGE_PENDING"
	StateAuthenticated    State = "AUTHENTICATED"
	StatePolling          State = "POLLING"
	StateReauthRequired   State = "REAUTH_REQUIRED"
)

// Active reports whether API calls may be made in this state.
func (s State) Active() bool {
	return s == StateAuthenticated || s == StatePolling
}
