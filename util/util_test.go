package util

import (
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePemKeypair(t *testing.T) {
	pair, err := GeneratePemKeypair()
	require.NoError(t, err)

	privBlock, _ := pem.Decode([]byte(pair.Private))
	require.NotNil(t, privBlock)
	assert.Equal(t, "RSA PRIVATE KEY", privBlock.Type)
	priv, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
	require.NoError(t, err)

	pubBlock, _ := pem.Decode([]byte(pair.Public))
	require.NotNil(t, pubBlock)
	assert.Equal(t, "PUBLIC KEY", pubBlock.Type)
	pub, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	require.NoError(t, err)

	assert.True(t, priv.PublicKey.Equal(pub))
}

func TestAuthority(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"https://a.example/u/alice", "a.example"},
		{"http://127.0.0.1:8080/inbox", "127.0.0.1:8080"},
		{"https://A.Example/c/news", "a.example"},
		{"::not a url", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, Authority(tt.in))
		})
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent("lemmings.example")
	assert.True(t, strings.HasPrefix(ua, "lemmings/"))
	assert.Contains(t, ua, "lemmings.example")
}
