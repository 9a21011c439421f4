package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret", 4)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, CheckPassword("s3cret", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestGenerateAndValidateJWT(t *testing.T) {
	userID := uuid.New()
	secret := "test-secret"

	token, err := GenerateJWT(userID, secret, time.Hour)
	require.NoError(t, err)

	parsed, err := ValidateJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, userID, parsed)

	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		expected string
	}{
		{"simple", "Intro to Go", "intro-to-go"},
		{"punctuation", "C++: The Basics!", "c-the-basics"},
		{"whitespace", "  Spaced   Out  ", "spaced-out"},
		{"already slug", "already-a-slug", "already-a-slug"},
		{"uppercase", "ALL CAPS", "all-caps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.title))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "video.mp4", "video.mp4"},
		{"path traversal", "../../etc/passwd", "passwd"},
		{"windows path", `C:\temp\file.png`, "file.png"},
		{"spaces and unicode", "my file ünicode.png", "my_file__nicode.png"},
		{"empty", "", "file"},
		{"dot", ".", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func TestComputeSHA256(t *testing.T) {
	// sha256 of "hello"
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		ComputeSHA256([]byte("hello")))
}
