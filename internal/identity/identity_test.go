package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnforcesVariantShape(t *testing.T) {
	cases := []struct {
		name    string
		role    Role
		section string
		year    string
		wantErr bool
	}{
		{name: "admin", role: RoleAdmin},
		{name: "admin upper-case role", role: "ADMIN"},
		{name: "admin with section", role: RoleAdmin, section: "A", wantErr: true},
		{name: "admin with year", role: RoleAdmin, year: "2", wantErr: true},
		{name: "student", role: RoleStudent, section: "A", year: "2"},
		{name: "student without year", role: RoleStudent, section: "A", wantErr: true},
		{name: "unknown role", role: "staff", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := New("u-1", tc.role, tc.section, tc.year)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentity, "%v", id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u-1", id.ID())
		})
	}

	_, err := New("  ", RoleAdmin, "", "")
	assert.ErrorIs(t, err, ErrInvalidIdentity, "blank id")
}

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens("test-secret", "")
	require.NoError(t, err)

	student := Student{UserID: "s-1", Section: "A", Year: "2"}
	raw, err := tokens.Issue(student, time.Minute)
	require.NoError(t, err)
	got, err := tokens.Verify(raw)
	require.NoError(t, err)
	s, ok := AsStudent(got)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, student, s)

	raw, err = tokens.Issue(Admin{UserID: "a-1"}, time.Minute)
	require.NoError(t, err)
	got, err = tokens.Verify(raw)
	require.NoError(t, err)
	_, ok = AsAdmin(got)
	assert.True(t, ok)
	assert.Equal(t, "a-1", got.ID())
}

func TestTokensRejectForeignAndExpired(t *testing.T) {
	tokens, err := NewTokens("secret-one", "campusvote")
	require.NoError(t, err)
	other, err := NewTokens("secret-two", "campusvote")
	require.NoError(t, err)

	raw, err := other.Issue(Admin{UserID: "a-1"}, time.Minute)
	require.NoError(t, err)
	_, err = tokens.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "foreign signature")

	past := time.Now().Add(-2 * time.Hour)
	tokens.now = func() time.Time { return past }
	raw, err = tokens.Issue(Admin{UserID: "a-1"}, time.Minute)
	require.NoError(t, err)
	tokens.now = time.Now
	_, err = tokens.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired token")

	_, err = tokens.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken, "empty token")
}

func TestNewTokensRequiresSecret(t *testing.T) {
	_, err := NewTokens(" ", "")
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithIdentity(context.Background(), Admin{UserID: "a-9"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "a-9", id.ID())
	assert.Equal(t, RoleAdmin, id.Role())
}
