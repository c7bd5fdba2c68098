package teeadapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableFalseWithoutBaseURL(t *testing.T) {
	a := New("")
	assert.False(t, a.Available(context.Background()))
}

func TestDeriveKeyNilWithoutBaseURL(t *testing.T) {
	a := New("")
	key, err := a.DeriveKey(context.Background(), "vin-signing-v1")
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestAttestationReportUnavailableWithoutBaseURL(t *testing.T) {
	a := New("")
	att := a.AttestationReport(context.Background(), []byte("nonce"), nil)
	assert.Equal(t, "none", att.Type)
	assert.False(t, att.Available)
}

func TestAvailableFalseOnUnreachableHost(t *testing.T) {
	a := New("http://127.0.0.1:0")
	assert.False(t, a.Available(context.Background()))
}

func TestAvailableTrueWhenAgentReportsTrue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"available": true})
	}))
	defer srv.Close()

	a := New(srv.URL)
	assert.True(t, a.Available(context.Background()))
}

func TestDeriveKeyDecodesAgentResponse(t *testing.T) {
	want := []byte("0123456789012345678901234567890x")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"key": base64.StdEncoding.EncodeToString(want)})
	}))
	defer srv.Close()

	a := New(srv.URL)
	got, err := a.DeriveKey(context.Background(), "vin-signing-v1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDeriveKeyErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(srv.URL)
	_, err := a.DeriveKey(context.Background(), "vin-signing-v1")
	assert.Error(t, err)
}

func TestAttestationReportParsesWireFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(attestationWire{
			Type:        "sgx",
			Available:   true,
			Report:      base64.StdEncoding.EncodeToString([]byte("report")),
			Measurement: base64.StdEncoding.EncodeToString([]byte("measurement")),
		})
	}))
	defer srv.Close()

	a := New(srv.URL)
	att := a.AttestationReport(context.Background(), []byte("nonce"), []byte("binding"))
	assert.Equal(t, "sgx", att.Type)
	assert.True(t, att.Available)
	assert.Equal(t, []byte("report"), att.Report)
	assert.Equal(t, []byte("measurement"), att.Measurement)
}
