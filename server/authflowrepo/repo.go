package authflowrepo

import "time"

// AuthFlowState is what the agent remembers between sending the user to the
// provider and the provider redirecting back.
type AuthFlowState struct {
	CodeVerifier string
	Nonce        string
	ReturnURL    string
	CreatedAt    time.Time
}

// Expired reports whether the flow is older than ttl at now.
func (s *AuthFlowState) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	Get(state string) (*AuthFlowState, error)
	Delete(state string) error
	// Prune removes flows created before cutoff and returns how many went.
	Prune(cutoff time.Time) int
}
