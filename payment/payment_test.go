package payment

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vin-protocol/vin/canon"
)

func TestChallengeShape(t *testing.T) {
	g := NewGate("0xPayee", "10000", "eip155:8453", false)
	c := g.Challenge("https://vin.example/v1/generate")

	assert.Equal(t, 2, c.X402Version)
	require.Len(t, c.Accepts, 1)
	assert.Equal(t, "0xPayee", c.Accepts[0].PayTo)
	assert.Equal(t, "10000", c.Accepts[0].Amount)
	assert.Equal(t, "eip155:8453", c.Accepts[0].Network)
}

func TestWriteChallengeSetsHeaderAndStatus(t *testing.T) {
	g := NewGate("0xPayee", "10000", "eip155:8453", false)
	rec := httptest.NewRecorder()

	require.NoError(t, g.WriteChallenge(rec, "https://vin.example/v1/generate"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	encoded := rec.Header().Get("PAYMENT-REQUIRED")
	require.NotEmpty(t, encoded)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var c Challenge
	require.NoError(t, json.Unmarshal(raw, &c))
	assert.Equal(t, 2, c.X402Version)
}

func TestCheckPrefersPaymentSignatureOverXPayment(t *testing.T) {
	g := NewGate("0xPayee", "10000", "eip155:8453", false)
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.Header.Set("PAYMENT-SIGNATURE", "sig-value")
	req.Header.Set("X-Payment", "legacy-value")

	a := g.Check(req)
	assert.True(t, a.Accepted)
	assert.Equal(t, canon.HashText("sig-value"), a.PaymentCommitment)
}

func TestCheckFallsBackToXPayment(t *testing.T) {
	g := NewGate("0xPayee", "10000", "eip155:8453", false)
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.Header.Set("X-Payment", "legacy-value")

	a := g.Check(req)
	assert.True(t, a.Accepted)
}

func TestCheckRejectsQueryParamOutsideTestMode(t *testing.T) {
	g := NewGate("0xPayee", "10000", "eip155:8453", false)
	req := httptest.NewRequest(http.MethodPost, "/v1/generate?paid=true", nil)

	assert.False(t, g.Check(req).Accepted)
}

func TestCheckAllowsQueryParamInTestMode(t *testing.T) {
	g := NewGate("0xPayee", "10000", "eip155:8453", true)
	req := httptest.NewRequest(http.MethodPost, "/v1/generate?paid=true", nil)

	assert.True(t, g.Check(req).Accepted)
}

func TestCheckRejectsUnpaidRequest(t *testing.T) {
	g := NewGate("0xPayee", "10000", "eip155:8453", false)
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)

	assert.False(t, g.Check(req).Accepted)
}
