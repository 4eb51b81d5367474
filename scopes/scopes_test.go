package scopes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compactmgr/engine/types"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scope        string
		compact      string
		jurisdiction string
		action       string
		ok           bool
	}{
		{"aslp/readGeneral", "aslp", "", "readGeneral", true},
		{"oh/aslp.write", "aslp", "oh", "write", true},
		{"oh/aslp.readPrivate", "aslp", "oh", "readPrivate", true},
		{"aslp/", "", "", "", false},
		{"/readGeneral", "", "", "", false},
		{"oh/.write", "", "", "", false},
		{"oh/aslp.", "", "", "", false},
		{"not-a-scope", "", "", "", false},
		{"", "", "", "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.scope, func(t *testing.T) {
			t.Parallel()
			compact, jurisdiction, action, ok := Parse(tt.scope)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.compact, compact)
			assert.Equal(t, tt.jurisdiction, jurisdiction)
			assert.Equal(t, tt.action, action)
		})
	}
}

func TestHas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		set          Set
		compact      string
		jurisdiction string
		action       string
		want         bool
	}{
		{"compact action implies all jurisdictions", NewSet("aslp/readGeneral"), "aslp", "oh", "readGeneral", true},
		{"compact admin implies any action", NewSet("aslp/admin"), "aslp", "oh", "write", true},
		{"jurisdiction admin implies any action there", NewSet("oh/aslp.admin"), "aslp", "oh", "write", true},
		{"exact jurisdiction scope", NewSet("oh/aslp.write"), "aslp", "oh", "write", true},
		{"other jurisdiction does not grant", NewSet("oh/aslp.write"), "aslp", "ky", "write", false},
		{"other compact does not grant", NewSet("octp/readGeneral"), "aslp", "oh", "readGeneral", false},
		{"jurisdiction scope does not reach compact level", NewSet("oh/aslp.write"), "aslp", "", "write", false},
		{"empty set", NewSet(), "aslp", "oh", "readGeneral", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Has(tt.set, tt.compact, tt.jurisdiction, tt.action))
		})
	}
}

func TestFromPermissions(t *testing.T) {
	t.Parallel()

	perms := []types.UserPermission{
		{
			UserID:         "user-1",
			Compact:        "aslp",
			CompactActions: []string{ActionReadGeneral, ActionAdmin},
			JurisdictionActions: map[string][]string{
				"oh": {ActionWrite},
			},
		},
		{
			UserID:  "user-1",
			Compact: "octp",
			JurisdictionActions: map[string][]string{
				"ky": {ActionReadPrivate},
			},
		},
	}

	s := FromPermissions(perms)

	assert.ElementsMatch(t, []string{
		"aslp/readGeneral",
		"aslp/admin",
		"oh/aslp.write",
		"ky/octp.readPrivate",
	}, s.Strings())
}

func TestIssueAndParseToken_RoundTrip(t *testing.T) {
	t.Parallel()

	key := []byte("test-signing-key")
	now := time.Now()
	scopeSet := NewSet("aslp/readGeneral", "oh/aslp.readPrivate")

	token, err := IssueToken(key, "user-1", scopeSet, time.Hour, now)
	require.NoError(t, err)

	sub, parsed, err := ParseToken(key, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
	assert.Equal(t, scopeSet, parsed)
}

func TestParseToken_WrongKey(t *testing.T) {
	t.Parallel()

	token, err := IssueToken([]byte("key-a"), "user-1", NewSet("aslp/readGeneral"), time.Hour, time.Now())
	require.NoError(t, err)

	_, _, err = ParseToken([]byte("key-b"), token)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()

	key := []byte("test-signing-key")
	issued := time.Now().Add(-2 * time.Hour)

	token, err := IssueToken(key, "user-1", NewSet("aslp/readGeneral"), time.Hour, issued)
	require.NoError(t, err)

	_, _, err = ParseToken(key, token)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestParseToken_Garbage(t *testing.T) {
	t.Parallel()

	_, _, err := ParseToken([]byte("key"), "not.a.token")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}
