package shopify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_ValidSignature(t *testing.T) {
	v := NewVerifier("shared-secret")
	body := []byte(`{"id":"123","inventory_quantity":45}`)

	err := v.Verify(body, v.Sign(body))
	require.NoError(t, err)
}

func TestVerifier_AlteredBody(t *testing.T) {
	v := NewVerifier("shared-secret")
	body := []byte(`{"id":"123","inventory_quantity":45}`)
	signature := v.Sign(body)

	tampered := []byte(`{"id":"123","inventory_quantity":9999}`)
	err := v.Verify(tampered, signature)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestVerifier_WrongSecret(t *testing.T) {
	signer := NewVerifier("their-secret")
	body := []byte(`{"id":"123"}`)

	v := NewVerifier("our-secret")
	err := v.Verify(body, signer.Sign(body))
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestVerifier_MissingSignature(t *testing.T) {
	v := NewVerifier("shared-secret")
	err := v.Verify([]byte(`{}`), "")
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestVerifier_SecretUnconfigured(t *testing.T) {
	v := NewVerifier("")
	err := v.Verify([]byte(`{}`), "anything")
	assert.ErrorIs(t, err, ErrSecretUnconfigured)
}

func TestVerifier_SignatureIsDeterministic(t *testing.T) {
	v := NewVerifier("shared-secret")
	body := []byte(`{"id":"abc"}`)
	assert.Equal(t, v.Sign(body), v.Sign(body))
}
