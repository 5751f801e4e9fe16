package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSalt = []byte("0123456789abcdef")

func TestDeriveKeyFromPassword_Deterministic(t *testing.T) {
	password := []byte("correct horse battery staple")

	k1, err := DeriveKeyFromPassword(password, testSalt, MinPBKDF2Iterations)
	require.NoError(t, err)
	k2, err := DeriveKeyFromPassword(password, testSalt, MinPBKDF2Iterations)
	require.NoError(t, err)

	assert.Equal(t, KeySize, k1.Len())
	assert.True(t, bytes.Equal(k1.Bytes(), k2.Bytes()))
}

func TestDeriveKeyFromPassword_DifferentInputs(t *testing.T) {
	password := []byte("correct horse battery staple")
	otherSalt := []byte("fedcba9876543210")

	k1, err := DeriveKeyFromPassword(password, testSalt, MinPBKDF2Iterations)
	require.NoError(t, err)
	k2, err := DeriveKeyFromPassword(password, otherSalt, MinPBKDF2Iterations)
	require.NoError(t, err)
	k3, err := DeriveKeyFromPassword([]byte("another password"), testSalt, MinPBKDF2Iterations)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(k1.Bytes(), k2.Bytes()), "different salts must give different keys")
	assert.False(t, bytes.Equal(k1.Bytes(), k3.Bytes()), "different passwords must give different keys")
}

func TestDeriveKeyFromPassword_RejectsWeakParameters(t *testing.T) {
	_, err := DeriveKeyFromPassword([]byte("pw"), testSalt, MinPBKDF2Iterations-1)
	assert.ErrorIs(t, err, ErrWeakParameters)

	_, err = DeriveKeyFromPassword([]byte("pw"), []byte("short"), DefaultPBKDF2Iterations)
	assert.ErrorIs(t, err, ErrWeakParameters)
}

func TestDeriveKeyArgon2id(t *testing.T) {
	k1, err := DeriveKeyArgon2id([]byte("pw"), testSalt, 1)
	require.NoError(t, err)
	k2, err := DeriveKey(KDFArgon2id, []byte("pw"), testSalt, 1)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(k1.Bytes(), k2.Bytes()))

	_, err = DeriveKeyArgon2id([]byte("pw"), testSalt, 0)
	assert.ErrorIs(t, err, ErrWeakParameters)
}

func TestDeriveKey_UnknownKDF(t *testing.T) {
	_, err := DeriveKey("md5", []byte("pw"), testSalt, DefaultPBKDF2Iterations)
	assert.ErrorIs(t, err, ErrUnknownKDF)
}

func TestValidateKDFParams(t *testing.T) {
	assert.NoError(t, ValidateKDFParams(KDFPBKDF2SHA256, testSalt, DefaultPBKDF2Iterations))
	assert.NoError(t, ValidateKDFParams(KDFArgon2id, testSalt, DefaultArgon2idTime))
	assert.ErrorIs(t, ValidateKDFParams(KDFPBKDF2SHA256, testSalt, 1000), ErrWeakParameters)
	assert.ErrorIs(t, ValidateKDFParams(KDFPBKDF2SHA256, nil, DefaultPBKDF2Iterations), ErrWeakParameters)
	assert.ErrorIs(t, ValidateKDFParams("scrypt", testSalt, 1), ErrUnknownKDF)
	assert.NoError(t, ValidateKDFParams(KDFPBKDF2SHA256, testSalt, MaxPBKDF2Iterations))
	assert.ErrorIs(t, ValidateKDFParams(KDFPBKDF2SHA256, testSalt, MaxPBKDF2Iterations+1), ErrExcessiveParameters)
	assert.ErrorIs(t, ValidateKDFParams(KDFArgon2id, testSalt, MaxArgon2idTime+1), ErrExcessiveParameters)
}

func TestDeriveKey_RejectsExcessiveParameters(t *testing.T) {
	_, err := DeriveKeyFromPassword([]byte("pw"), testSalt, 1<<40)
	assert.ErrorIs(t, err, ErrExcessiveParameters)

	// 1<<32 + 1 would truncate to a time cost of 1 as a uint32
	_, err = DeriveKeyArgon2id([]byte("pw"), testSalt, 1<<32+1)
	assert.ErrorIs(t, err, ErrExcessiveParameters)

	_, err = DeriveKey(KDFArgon2id, []byte("pw"), testSalt, MaxArgon2idTime+1)
	assert.ErrorIs(t, err, ErrExcessiveParameters)
}

func TestPasswordDerivedKey_RoundTrip(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	enc, err := DeriveKeyFromPassword([]byte("pw-123456"), salt, MinPBKDF2Iterations)
	require.NoError(t, err)
	sealed, err := Encrypt([]byte("payload"), enc)
	require.NoError(t, err)

	dec, err := DeriveKeyFromPassword([]byte("pw-123456"), salt, MinPBKDF2Iterations)
	require.NoError(t, err)
	got, err := DecryptBlob(sealed.Blob(), dec, sealed.IV)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}
