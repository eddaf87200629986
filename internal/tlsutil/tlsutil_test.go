package tlsutil

import (
	"crypto/tls"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)
	for _, cs := range cfg.CipherSuites {
		switch cs {
		case tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305:
		default:
			t.Errorf("unexpected non-AEAD cipher suite: %d", cs)
		}
	}
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Nil(t, tr.Proxy)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)

	// redirects are surfaced, not followed
	assert.ErrorIs(t, client.CheckRedirect(nil, nil), http.ErrUseLastResponse)
}

func TestServerTLSConfig_MissingFiles(t *testing.T) {
	_, err := ServerTLSConfig("missing.crt", "missing.key")
	assert.Error(t, err)
}

func TestClientTLSConfig(t *testing.T) {
	cfg, err := ClientTLSConfig("", "enclave.local")
	require.NoError(t, err)
	assert.Equal(t, "enclave.local", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)

	bad := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = ClientTLSConfig(bad, "enclave.local")
	assert.Error(t, err)
}
