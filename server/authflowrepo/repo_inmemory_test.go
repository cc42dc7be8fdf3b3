package authflowrepo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryRepo(t *testing.T) {
	r := NewInMemoryRepo()
	now := time.Now()

	require.Error(t, r.Upsert("", &AuthFlowState{}))
	require.Error(t, r.Upsert("s1", nil))

	flow := &AuthFlowState{CodeVerifier: "v1", Nonce: "n1", ReturnURL: "/state", CreatedAt: now}
	require.NoError(t, r.Upsert("s1", flow))
	flow.Nonce = "changed"

	got, err := r.Get("s1")
	require.NoError(t, err)
	require.Equal(t, "n1", got.Nonce)
	require.Equal(t, "v1", got.CodeVerifier)

	require.NoError(t, r.Delete("s1"))
	_, err = r.Get("s1")
	require.ErrorIs(t, err, ErrStateNotFound)
}

func TestPrune(t *testing.T) {
	r := NewInMemoryRepo()
	now := time.Now()
	require.NoError(t, r.Upsert("old", &AuthFlowState{CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, r.Upsert("new", &AuthFlowState{CreatedAt: now}))

	require.Equal(t, 1, r.Prune(now.Add(-10*time.Minute)))
	_, err := r.Get("old")
	require.ErrorIs(t, err, ErrStateNotFound)
	_, err = r.Get("new")
	require.NoError(t, err)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	flow := &AuthFlowState{CreatedAt: now.Add(-11 * time.Minute)}
	require.True(t, flow.Expired(now, 10*time.Minute))
	require.False(t, flow.Expired(now, 15*time.Minute))
}
