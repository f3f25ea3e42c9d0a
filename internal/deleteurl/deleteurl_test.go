package deleteurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenFor_RoundTripsThroughParse(t *testing.T) {
	token := TokenFor("secret", 42)
	id, err := Parse("secret", token)
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
}

func TestParse_MalformedTokenMissingSeparator(t *testing.T) {
	_, err := Parse("secret", "42-nomac")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParse_MalformedTokenNonNumericID(t *testing.T) {
	_, err := Parse("secret", "notanumber.deadbeef")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParse_TamperedMACIsRejected(t *testing.T) {
	token := TokenFor("secret", 42)
	replacement := "0"
	if token[len(token)-1] == '0' {
		replacement = "1"
	}
	tampered := token[:len(token)-1] + replacement
	_, err := Parse("secret", tampered)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParse_WrongSecretIsRejected(t *testing.T) {
	token := TokenFor("secret", 42)
	_, err := Parse("different-secret", token)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParse_TokenForDifferentIDIsRejected(t *testing.T) {
	tokenFor1 := TokenFor("secret", 1)
	_, mac, _ := cutToken(tokenFor1)
	forged := "2." + mac

	_, err := Parse("secret", forged)
	assert.ErrorIs(t, err, ErrInvalid)
}

func cutToken(token string) (string, string, bool) {
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			return token[:i], token[i+1:], true
		}
	}
	return token, "", false
}
