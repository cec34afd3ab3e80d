package utils

import (
    "testing"

    "github.com/golang-jwt/jwt/v5"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "golang.org/x/crypto/bcrypt"
)

func TestHashPassword_RoundTrip(t *testing.T) {
    hash, err := HashPassword("correct horse battery", bcrypt.MinCost)
    require.NoError(t, err)
    require.NotEmpty(t, hash)

    assert.True(t, VerifyPassword(hash, "correct horse battery"))
    assert.False(t, VerifyPassword(hash, "wrong password"))
    assert.False(t, VerifyPassword("not-a-bcrypt-hash", "correct horse battery"))
}

func TestNewAccessToken_ClaimsParseBack(t *testing.T) {
    secret := "test-secret"
    access, err := NewAccessToken(secret, 42, "OPERATOR", 15)
    require.NoError(t, err)
    require.NotEmpty(t, access.Token)

    parsed, err := jwt.Parse(access.Token, func(tok *jwt.Token) (interface{}, error) {
        return []byte(secret), nil
    }, jwt.WithValidMethods([]string{"HS256"}))
    require.NoError(t, err)
    require.True(t, parsed.Valid)

    claims, ok := parsed.Claims.(jwt.MapClaims)
    require.True(t, ok)
    assert.EqualValues(t, 42, claims["sub"])
    assert.Equal(t, "OPERATOR", claims["role"])
    assert.EqualValues(t, access.Exp.Unix(), claims["exp"])
}

func TestNewAccessToken_WrongSecretRejected(t *testing.T) {
    access, err := NewAccessToken("secret-a", 7, "ADMIN", 15)
    require.NoError(t, err)

    _, err = jwt.Parse(access.Token, func(tok *jwt.Token) (interface{}, error) {
        return []byte("secret-b"), nil
    }, jwt.WithValidMethods([]string{"HS256"}))
    assert.Error(t, err)
}
