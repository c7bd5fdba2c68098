package outbound

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBlockedAddrIPv4Ranges(t *testing.T) {
	blocked := []string{
		"10.1.2.3", "127.0.0.1", "172.16.5.5", "192.168.1.1",
		"169.254.169.254", "0.1.2.3", "100.64.0.1",
	}
	for _, s := range blocked {
		addr := netip.MustParseAddr(s)
		assert.True(t, isBlockedAddr(addr), "%s should be blocked", s)
	}

	allowed := []string{"8.8.8.8", "1.1.1.1", "93.184.216.34"}
	for _, s := range allowed {
		addr := netip.MustParseAddr(s)
		assert.False(t, isBlockedAddr(addr), "%s should not be blocked", s)
	}
}

func TestIsBlockedAddrIPv6Ranges(t *testing.T) {
	blocked := []string{"::1", "::", "fe80::1", "fc00::1", "fd12:3456::1"}
	for _, s := range blocked {
		addr := netip.MustParseAddr(s)
		assert.True(t, isBlockedAddr(addr), "%s should be blocked", s)
	}

	allowed := []string{"2606:4700:4700::1111"}
	for _, s := range allowed {
		addr := netip.MustParseAddr(s)
		assert.False(t, isBlockedAddr(addr), "%s should not be blocked", s)
	}
}

func TestUnmapIPv4MappedAddress(t *testing.T) {
	mapped := netip.MustParseAddr("::ffff:127.0.0.1")
	unmapped := unmapIPv4(mapped)
	assert.True(t, unmapped.Is4())
	assert.True(t, isBlockedAddr(unmapped))
}

func TestCallRejectsNonHTTPSScheme(t *testing.T) {
	c := NewCaller()
	_, err := c.Call(context.Background(), CallParams{ProviderURL: "http://api.openai.com/v1/chat/completions"})
	require.Error(t, err)
	oerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrDisallowedHost, oerr.Kind)
}

func TestCallRejectsHostNotInAllowlist(t *testing.T) {
	c := NewCaller()
	_, err := c.Call(context.Background(), CallParams{ProviderURL: "https://evil.example.com/v1/chat"})
	require.Error(t, err)
	oerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrDisallowedHost, oerr.Kind)
}

func TestShapeRequestSelectsAnthropicShape(t *testing.T) {
	body, contentType := shapeRequest("api.anthropic.com", CallParams{
		Model:    "claude-3-haiku-20240307",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.Equal(t, "application/json", contentType)
	assert.Contains(t, string(body), "max_tokens")
}

func TestShapeRequestFallsBackToOpenAICompatShape(t *testing.T) {
	body, _ := shapeRequest("api.groq.com", CallParams{
		Model:    "llama3-70b",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.Contains(t, string(body), "llama3-70b")
}

func TestParseResponseAnthropicShape(t *testing.T) {
	raw := []byte(`{"content":[{"text":"hello"}],"usage":{"input_tokens":3,"output_tokens":5}}`)
	resp, err := parseResponse("api.anthropic.com", "claude-3-haiku-20240307", raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestParseResponseOpenAICompatShape(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`)
	resp, err := parseResponse("api.openai.com", "gpt-4o-mini", raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}
