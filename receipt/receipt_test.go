package receipt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vin-protocol/vin/canon"
	"github.com/vin-protocol/vin/crypto/keys"
)

func testSigner(t *testing.T) *keys.SigningKey {
	t.Helper()
	k, err := keys.GenerateSigningKey()
	require.NoError(t, err)
	return k
}

func testParams() BuildParams {
	return BuildParams{
		NodePubkeyB64URL: "node-pubkey",
		RequestID:        "req-1",
		ActionType:       "confidential_llm_call",
		PolicyID:         "P2_CONFIDENTIAL_PROXY_V1",
		Request: Request{
			Inputs: map[string]interface{}{"provider_url": "https://api.anthropic.com/v1/messages"},
		},
		Output: Output{CleanText: "hello there", Text: "hello there"},
	}
}

func TestBuildThenVerifySucceeds(t *testing.T) {
	signer := testSigner(t)
	params := testParams()
	params.NodePubkeyB64URL = signerPubkeyB64URL(signer)

	r, err := Build(signer, params)
	require.NoError(t, err)
	assert.Equal(t, Schema, r.Schema)
	assert.LessOrEqual(t, r.IAT, r.EXP)

	v := NewVerifier(0, DefaultValiditySeconds)
	result := v.Verify(r, params.Request, params.Output)
	assert.True(t, result.Valid)
}

func TestVerifyDetectsReplayOnSecondCall(t *testing.T) {
	signer := testSigner(t)
	params := testParams()
	params.NodePubkeyB64URL = signerPubkeyB64URL(signer)

	r, err := Build(signer, params)
	require.NoError(t, err)

	v := NewVerifier(0, DefaultValiditySeconds)
	first := v.Verify(r, params.Request, params.Output)
	require.True(t, first.Valid)

	second := v.Verify(r, params.Request, params.Output)
	assert.False(t, second.Valid)
	assert.Equal(t, "replay_detected", second.Reason)
}

func TestVerifyDetectsOutputCleanTextTamper(t *testing.T) {
	signer := testSigner(t)
	params := testParams()
	params.NodePubkeyB64URL = signerPubkeyB64URL(signer)

	r, err := Build(signer, params)
	require.NoError(t, err)

	v := NewVerifier(0, DefaultValiditySeconds)
	tampered := params.Output
	tampered.CleanText = "tampered text"
	result := v.Verify(r, params.Request, tampered)
	assert.False(t, result.Valid)
	assert.Equal(t, "output_clean_hash_mismatch", result.Reason)
}

func TestVerifyDetectsOutputTextTamper(t *testing.T) {
	signer := testSigner(t)
	params := testParams()
	params.NodePubkeyB64URL = signerPubkeyB64URL(signer)

	r, err := Build(signer, params)
	require.NoError(t, err)

	v := NewVerifier(0, DefaultValiditySeconds)
	tampered := params.Output
	tampered.Text = "tampered text"
	result := v.Verify(r, params.Request, tampered)
	assert.False(t, result.Valid)
	assert.Equal(t, "output_transport_hash_mismatch", result.Reason)
}

func TestVerifyDetectsInputsTamper(t *testing.T) {
	signer := testSigner(t)
	params := testParams()
	params.NodePubkeyB64URL = signerPubkeyB64URL(signer)

	r, err := Build(signer, params)
	require.NoError(t, err)

	v := NewVerifier(0, DefaultValiditySeconds)
	tampered := params.Request
	tampered.Inputs = map[string]interface{}{"provider_url": "https://api.openai.com/v1/chat/completions"}
	result := v.Verify(r, tampered, params.Output)
	assert.False(t, result.Valid)
	assert.Equal(t, "inputs_commitment_mismatch", result.Reason)
}

func TestVerifyDetectsSignatureTamper(t *testing.T) {
	signer := testSigner(t)
	params := testParams()
	params.NodePubkeyB64URL = signerPubkeyB64URL(signer)

	r, err := Build(signer, params)
	require.NoError(t, err)
	r.Sig = r.Sig[:len(r.Sig)-2] + "zz"

	v := NewVerifier(0, DefaultValiditySeconds)
	result := v.Verify(r, params.Request, params.Output)
	assert.False(t, result.Valid)
	assert.Equal(t, "signature_invalid", result.Reason)
}

func TestVerifyRejectsExpiredReceipt(t *testing.T) {
	signer := testSigner(t)
	params := testParams()
	params.NodePubkeyB64URL = signerPubkeyB64URL(signer)
	params.Now = time.Now().Add(-2 * time.Hour)
	params.ValiditySeconds = 1

	r, err := Build(signer, params)
	require.NoError(t, err)

	v := NewVerifier(0, DefaultValiditySeconds)
	result := v.Verify(r, params.Request, params.Output)
	assert.False(t, result.Valid)
	assert.Equal(t, "expired", result.Reason)
}

func TestVerifyRejectsIssuedInFuture(t *testing.T) {
	signer := testSigner(t)
	params := testParams()
	params.NodePubkeyB64URL = signerPubkeyB64URL(signer)
	params.Now = time.Now().Add(time.Hour)

	r, err := Build(signer, params)
	require.NoError(t, err)

	v := NewVerifier(0, DefaultValiditySeconds)
	result := v.Verify(r, params.Request, params.Output)
	assert.False(t, result.Valid)
	assert.Equal(t, "issued_in_future", result.Reason)
}

func TestVerifyRejectsWrongSchema(t *testing.T) {
	signer := testSigner(t)
	params := testParams()
	params.NodePubkeyB64URL = signerPubkeyB64URL(signer)

	r, err := Build(signer, params)
	require.NoError(t, err)
	r.Schema = "vin.receipt.v9"

	v := NewVerifier(0, DefaultValiditySeconds)
	result := v.Verify(r, params.Request, params.Output)
	assert.False(t, result.Valid)
	assert.Equal(t, "invalid_schema", result.Reason)
}

func signerPubkeyB64URL(k *keys.SigningKey) string {
	return canon.Base64URL(k.Public)
}
