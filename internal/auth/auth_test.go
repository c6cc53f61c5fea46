package auth

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aboamare/mms-router/pkg/message"
)

const routerMRN = "urn:mrn:mcp:id:aboamare:router:test"

func selfSigned(t *testing.T, key interface{}, pub interface{}, cn string) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,

		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func newECSigner(t *testing.T, mrn string) (*Signer, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert := selfSigned(t, key, &key.PublicKey, mrn)
	signer, err := NewSigner(mrn, key, []*x509.Certificate{cert})
	require.NoError(t, err)
	return signer, cert
}

func TestNewNonce(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		nonce, err := NewNonce(DefaultNonceLength)
		require.NoError(t, err)
		assert.Len(t, nonce, DefaultNonceLength)
		assert.Regexp(t, `^[a-km-z][a-km-z0-9]+$`, nonce)
		assert.True(t, ValidNonce(nonce))
		seen[nonce] = true
	}
	assert.Len(t, seen, 50)

	_, err := NewNonce(0)
	assert.ErrorIs(t, err, ErrNonceLength)
}

func TestValidNonce(t *testing.T) {
	assert.True(t, ValidNonce("abcdefghij"))
	assert.True(t, ValidNonce("ABCdef0123456789"))
	assert.False(t, ValidNonce("short"))
	assert.False(t, ValidNonce("abcdefghij-klm"))
	assert.False(t, ValidNonce("abcdefghijabcdefghijabcdefghijabc"))
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := newECSigner(t, routerMRN)

	jws, err := signer.Sign("abcdefghijk")
	require.NoError(t, err)
	assert.NotEmpty(t, jws.Protected)

	claims, err := NewVerifier(nil).Verify(jws)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijk", claims.Nonce)
	assert.Equal(t, routerMRN, claims.Subject)
	assert.NotNil(t, claims.IssuedAt)
}

func TestVerify_Ed25519(t *testing.T) {
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	cert := selfSigned(t, key, pub, "ed")
	signer, err := NewSigner(routerMRN, key, []*x509.Certificate{cert})
	require.NoError(t, err)

	jws, err := signer.Sign("nonce12345")
	require.NoError(t, err)
	claims, err := NewVerifier(nil).Verify(jws)
	require.NoError(t, err)
	assert.Equal(t, "nonce12345", claims.Nonce)
}

func TestVerify_Roots(t *testing.T) {
	signer, cert := newECSigner(t, routerMRN)
	jws, err := signer.Sign("abcdefghijk")
	require.NoError(t, err)

	trusted := x509.NewCertPool()
	trusted.AddCert(cert)
	_, err = NewVerifier(trusted).Verify(jws)
	assert.NoError(t, err)

	_, other := newECSigner(t, "urn:mrn:mcp:id:other")
	untrusted := x509.NewCertPool()
	untrusted.AddCert(other)
	_, err = NewVerifier(untrusted).Verify(jws)
	assert.Error(t, err)
}

func TestVerify_Tampered(t *testing.T) {
	signer, _ := newECSigner(t, routerMRN)
	jws, err := signer.Sign("abcdefghijk")
	require.NoError(t, err)

	other, err := signer.Sign("zzzzzzzzzzz")
	require.NoError(t, err)

	forged := &message.JWS{Protected: jws.Protected, Payload: other.Payload, Signature: jws.Signature}
	_, err = NewVerifier(nil).Verify(forged)
	assert.Error(t, err)

	_, err = NewVerifier(nil).Verify(nil)
	assert.ErrorIs(t, err, ErrNilJWS)
}

func TestVerify_NoCertificate(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	signer, err := NewSigner(routerMRN, key, nil)
	require.NoError(t, err)

	jws, err := signer.Sign("abcdefghijk")
	require.NoError(t, err)
	_, err = NewVerifier(nil).Verify(jws)
	assert.ErrorIs(t, err, ErrNoCertificate)

	claims, err := UnverifiedClaims(jws)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijk", claims.Nonce)
}

func TestVerify_UnprotectedHeaderX5C(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert := selfSigned(t, key, &key.PublicKey, "agent")
	signer, err := NewSigner(routerMRN, key, nil)
	require.NoError(t, err)

	jws, err := signer.Sign("abcdefghijk")
	require.NoError(t, err)

	withCert, err := NewSigner(routerMRN, key, []*x509.Certificate{cert})
	require.NoError(t, err)
	jws.Header = map[string]any{"x5c": toAnySlice(withCert.x5c)}

	claims, err := NewVerifier(nil).Verify(jws)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijk", claims.Nonce)
}

func toAnySlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func TestLoadSigner(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	cert := selfSigned(t, key, &key.PublicKey, "router")

	dir := t.TempDir()
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyFile := filepath.Join(dir, "key.pem")
	certFile := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600))
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}), 0o644))

	signer, err := LoadSigner(routerMRN, keyFile, certFile)
	require.NoError(t, err)
	assert.Equal(t, "ES384", signer.method.Alg())

	_, err = LoadSigner(routerMRN, filepath.Join(dir, "missing.pem"), certFile)
	assert.Error(t, err)

	_, err = ParseCertificates([]byte("not pem"))
	assert.Error(t, err)
}

func TestAdminAuth(t *testing.T) {
	a := NewAdminAuth("test-secret")

	token, expiresAt, err := a.GenerateToken("operator", true, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultAdminTokenTTL), expiresAt, time.Minute)

	claims, err := a.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.ClientID)
	assert.True(t, claims.IsAdmin)

	_, err = NewAdminAuth("other-secret").ValidateToken(token)
	assert.Error(t, err)

	_, err = a.ValidateToken("")
	assert.Error(t, err)

	_, _, err = a.GenerateToken("", false, time.Hour)
	assert.Error(t, err)
}
