package validation

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"v4 uuid", "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", true},
		{"v1 uuid", "c232ab00-9414-11ec-b3c8-9f68deced846", true},
		{"uppercase accepted", "9B1DEB4D-3B7D-4BAD-9BDD-2B0D7B3DCB6D", true},
		{"nil uuid rejected", "00000000-0000-0000-0000-000000000000", false},
		{"missing segment", "9b1deb4d-3b7d-4bad-9bdd", false},
		{"not hex", "zb1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUUID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidatePathRejectsNullByte(t *testing.T) {
	_, err := ValidatePath("docs/\x00evil.txt", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null byte")
}

func TestValidatePathRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	_, err := ValidatePath(filepath.Join(base, "..", "..", "etc", "passwd"), []string{base})
	require.Error(t, err)
}

func TestValidatePathAllowList(t *testing.T) {
	base := t.TempDir()
	inside := filepath.Join(base, "docs", "a.md")

	got, err := ValidatePath(inside, []string{base})
	require.NoError(t, err)
	assert.Equal(t, inside, got)

	_, err = ValidatePath("/somewhere/else/a.md", []string{base})
	require.Error(t, err)
}

func TestValidatePathCanonicalizes(t *testing.T) {
	base := t.TempDir()
	messy := filepath.Join(base, "docs", ".", "sub", "..", "a.md")

	got, err := ValidatePath(messy, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "docs", "a.md"), got)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	current := time.Unix(1000, 0)
	rl.now = func() time.Time { return current }

	assert.True(t, rl.IsAllowed("client"))
	assert.True(t, rl.IsAllowed("client"))
	assert.True(t, rl.IsAllowed("client"))
	assert.False(t, rl.IsAllowed("client"), "fourth call within window must be rejected")

	// Separate keys do not interfere.
	assert.True(t, rl.IsAllowed("other"))

	// After the window slides, the key is allowed again.
	current = current.Add(61 * time.Second)
	assert.True(t, rl.IsAllowed("client"))
}
