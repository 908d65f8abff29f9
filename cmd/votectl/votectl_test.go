package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusvote.org/internal/election"
	"campusvote.org/internal/httpapi"
	"campusvote.org/internal/identity"
)

func TestMintTokenRoundTrip(t *testing.T) {
	tok, err := mintToken("s3cret", "", "stu-1", identity.RoleStudent, "B", "2", time.Hour)
	require.NoError(t, err)

	tokens, err := identity.NewTokens("s3cret", "")
	require.NoError(t, err)
	who, err := tokens.Verify(tok)
	require.NoError(t, err)
	s, ok := identity.AsStudent(who)
	require.True(t, ok)
	assert.Equal(t, "B", s.Section)

	_, err = mintToken("s3cret", "", "stu-1", identity.RoleStudent, "", "", time.Hour)
	assert.Error(t, err, "students need an enrollment")
	_, err = mintToken("", "", "admin", identity.RoleAdmin, "", "", time.Hour)
	assert.Error(t, err)
}

func TestSmokeAgainstInMemoryAPI(t *testing.T) {
	tokens, err := identity.NewTokens("smoke-secret", "")
	require.NoError(t, err)
	store := election.NewInMemory()
	svc := election.NewService(store, store)
	api := httpapi.New(svc, tokens, httpapi.Options{RatePerSec: 1000, RateBurst: 1000})
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	c := &smokeClient{base: srv.URL, http: &http.Client{Timeout: 5 * time.Second}, tokens: tokens}
	require.NoError(t, c.run(context.Background(), 3))
}
