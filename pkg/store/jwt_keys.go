package store

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
)

// keyRing holds the active RS256 signing key and every public key still
// accepted for verification, keyed by kid.
type keyRing struct {
	active string
	signer *rsa.PrivateKey
	public map[string]*rsa.PublicKey
}

func activeKeyID(kid string) string {
	if kid = strings.TrimSpace(kid); kid != "" {
		return kid
	}
	return defaultKeyID
}

func newKeyRing(signer *rsa.PrivateKey, kid string, verifiers map[string]*rsa.PublicKey) (*keyRing, error) {
	if signer == nil {
		return nil, errors.New("jwt private key is required")
	}
	ring := &keyRing{
		active: activeKeyID(kid),
		signer: signer,
		public: make(map[string]*rsa.PublicKey, len(verifiers)+1),
	}
	for k, pub := range verifiers {
		if k = strings.TrimSpace(k); k != "" && pub != nil {
			ring.public[k] = pub
		}
	}
	if _, ok := ring.public[ring.active]; !ok {
		ring.public[ring.active] = &signer.PublicKey
	}
	return ring, nil
}

func (r *keyRing) lookup(kid string) (*rsa.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, errors.New("token key id required")
	}
	pub, ok := r.public[kid]
	if !ok {
		return nil, fmt.Errorf("unknown token key %q", kid)
	}
	return pub, nil
}

// jwks lists the ring sorted by kid.
func (r *keyRing) jwks() []JWK {
	kids := make([]string, 0, len(r.public))
	for kid := range r.public {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	enc := base64.RawURLEncoding
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		pub := r.public[kid]
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: "RS256",
			N:   enc.EncodeToString(pub.N.Bytes()),
			E:   enc.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func readPEMBlock(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no pem block", path)
	}
	return block, nil
}

// readRSAPrivateKey accepts PKCS#1 and PKCS#8 encodings.
func readRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an rsa key", path)
	}
	return key, nil
}

// readRSAPublicKey accepts a PKIX public key or an X.509 certificate.
func readRSAPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	var parsed any
	if parsed, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("%s: not a public key or certificate", path)
		}
		parsed = cert.PublicKey
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an rsa key", path)
	}
	return key, nil
}
