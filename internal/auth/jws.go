package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aboamare/mms-router/pkg/message"
)

// Claims is the payload of an authentication JWS.
type Claims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

var (
	// ErrNoCertificate is returned when a JWS carries no x5c header
	ErrNoCertificate = errors.New("no x5c certificate in JWS header")
	// ErrNilJWS is returned when a nil JWS is provided
	ErrNilJWS = errors.New("jws cannot be nil")
)

var validMethods = []string{
	"ES256", "ES384", "ES512",
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"EdDSA",
}

// Verifier checks JWS signatures with the key of the leaf certificate in the x5c header.
type Verifier struct {
	// Roots, when set, must anchor the x5c chain. Without roots only the signature is checked.
	Roots *x509.CertPool
	Clock func() time.Time
}

// NewVerifier creates a verifier. roots may be nil.
func NewVerifier(roots *x509.CertPool) *Verifier {
	return &Verifier{Roots: roots, Clock: time.Now}
}

// Verify checks the signature of jws and returns its claims.
func (v *Verifier) Verify(jws *message.JWS) (*Claims, error) {
	if jws == nil {
		return nil, ErrNilJWS
	}

	parser := jwt.NewParser(jwt.WithValidMethods(validMethods), jwt.WithTimeFunc(v.now))
	claims := &Claims{}
	_, err := parser.ParseWithClaims(jws.Compact(), claims, func(token *jwt.Token) (interface{}, error) {
		chain, err := certificateChain(token.Header, jws.Header)
		if err != nil {
			return nil, err
		}
		if err := v.verifyChain(chain); err != nil {
			return nil, err
		}
		return chain[0].PublicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify jws: %w", err)
	}
	return claims, nil
}

func (v *Verifier) now() time.Time {
	if v.Clock == nil {
		return time.Now()
	}
	return v.Clock()
}

func (v *Verifier) verifyChain(chain []*x509.Certificate) error {
	if v.Roots == nil {
		return nil
	}
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         v.Roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}

// certificateChain reads x5c from the protected header, falling back to the unprotected one.
func certificateChain(headers ...map[string]interface{}) ([]*x509.Certificate, error) {
	for _, h := range headers {
		raw, ok := h["x5c"].([]interface{})
		if !ok || len(raw) == 0 {
			continue
		}
		chain := make([]*x509.Certificate, 0, len(raw))
		for _, item := range raw {
			encoded, ok := item.(string)
			if !ok {
				return nil, errors.New("x5c entries must be strings")
			}
			der, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("decode x5c: %w", err)
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("parse x5c: %w", err)
			}
			chain = append(chain, cert)
		}
		return chain, nil
	}
	return nil, ErrNoCertificate
}

// UnverifiedClaims decodes the payload of jws without checking its signature.
func UnverifiedClaims(jws *message.JWS) (*Claims, error) {
	if jws == nil {
		return nil, ErrNilJWS
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(jws.Compact(), claims); err != nil {
		return nil, fmt.Errorf("decode jws: %w", err)
	}
	return claims, nil
}

// Signer produces the router's own signed answers to authenticate requests.
type Signer struct {
	mrn    string
	key    crypto.Signer
	method jwt.SigningMethod
	x5c    []string
	clock  func() time.Time
}

// NewSigner creates a signer for the router identity mrn.
// chain starts with the certificate of key.
func NewSigner(mrn string, key crypto.Signer, chain []*x509.Certificate) (*Signer, error) {
	method, err := signingMethod(key)
	if err != nil {
		return nil, err
	}
	x5c := make([]string, 0, len(chain))
	for _, c := range chain {
		x5c = append(x5c, base64.StdEncoding.EncodeToString(c.Raw))
	}
	return &Signer{mrn: mrn, key: key, method: method, x5c: x5c, clock: time.Now}, nil
}

func signingMethod(key crypto.Signer) (jwt.SigningMethod, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, nil
		}
		return nil, fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}

// Sign returns a flattened JWS whose payload echoes nonce and names the router as subject.
func (s *Signer) Sign(nonce string) (*message.JWS, error) {
	claims := Claims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  s.mrn,
			IssuedAt: jwt.NewNumericDate(s.clock()),
		},
	}

	token := jwt.NewWithClaims(s.method, claims)
	if len(s.x5c) > 0 {
		token.Header["x5c"] = s.x5c
	}
	compact, err := token.SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	jws, ok := message.JWSFromCompact(compact)
	if !ok {
		return nil, errors.New("signer produced a malformed token")
	}
	return jws, nil
}

// LoadSigner reads a PEM private key and a PEM certificate chain from disk.
func LoadSigner(mrn, keyFile, certFile string) (*Signer, error) {
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	chain, err := ParseCertificates(certPEM)
	if err != nil {
		return nil, err
	}
	return NewSigner(mrn, key, chain)
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in key file")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.New("unrecognized private key format")
}

// ParseCertificates decodes every CERTIFICATE block in data.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, errors.New("no certificates found")
	}
	return chain, nil
}
