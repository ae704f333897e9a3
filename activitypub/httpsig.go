package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

// MaxClockSkew is how far the Date header of a signed request may be from now.
const MaxClockSkew = 12 * time.Hour

var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// requiredSignedHeaders bind a signature to one request on one instance.
var requiredSignedHeaders = signedHeaders[:3]

// SignRequest signs an outgoing POST. The Digest header is derived from body
// by the signer and must not be set by the caller.
// keyId format: "https://example.com/u/alice#main-key"
func SignRequest(req *http.Request, body []byte, privateKey *rsa.PrivateKey, keyId string) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	req.Header.Set("Host", req.URL.Host)

	headers := signedHeaders
	if body == nil {
		headers = signedHeaders[:3]
	}
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	return signer.SignRequest(privateKey, keyId, req, body)
}

// VerifyRequest checks the HTTP signature of an incoming request against the
// PEM public key of the actor that claims to have sent it and returns the
// keyId. The signature must cover the request target, host and date, and a
// request with a body must carry a signed Digest that matches it.
// Every failure wraps ErrUnauthorized.
func VerifyRequest(req *http.Request, body []byte, publicKeyPem string) (string, error) {
	if err := checkDate(req.Header.Get("Date")); err != nil {
		return "", err
	}
	signed := signedHeaderList(req.Header)
	for _, name := range requiredSignedHeaders {
		if !containsHeader(signed, name) {
			return "", fmt.Errorf("%w: %s header is not signed", ErrUnauthorized, name)
		}
	}
	if len(body) > 0 {
		if err := VerifyDigest(req.Header, body); err != nil {
			return "", err
		}
		if !containsHeader(signed, "digest") {
			return "", fmt.Errorf("%w: digest header is not signed", ErrUnauthorized)
		}
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("%w: signature verification failed: %v", ErrUnauthorized, err)
	}
	return verifier.KeyId(), nil
}

// HasSignature reports whether the request carries a signature at all.
func HasSignature(h http.Header) bool {
	return h.Get("Signature") != "" || strings.HasPrefix(h.Get("Authorization"), "Signature ")
}

// VerifyDigest compares the SHA-256 entry of the Digest header with body.
func VerifyDigest(h http.Header, body []byte) error {
	digest := h.Get("Digest")
	if digest == "" {
		return fmt.Errorf("%w: missing digest header", ErrUnauthorized)
	}
	sum := sha256.Sum256(body)
	want := base64.StdEncoding.EncodeToString(sum[:])
	for _, part := range strings.Split(digest, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(value), []byte(want)) == 1 {
			return nil
		}
		return fmt.Errorf("%w: digest does not match body", ErrUnauthorized)
	}
	return fmt.Errorf("%w: no SHA-256 digest", ErrUnauthorized)
}

func checkDate(date string) error {
	if date == "" {
		return fmt.Errorf("%w: missing date header", ErrUnauthorized)
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return fmt.Errorf("%w: invalid date header: %v", ErrUnauthorized, err)
	}
	if skew := time.Since(t); skew > MaxClockSkew || skew < -MaxClockSkew {
		return fmt.Errorf("%w: date header out of range", ErrUnauthorized)
	}
	return nil
}

// signedHeaderList extracts the headers="..." parameter of the signature.
func signedHeaderList(h http.Header) []string {
	sig := h.Get("Signature")
	if sig == "" {
		sig = strings.TrimPrefix(h.Get("Authorization"), "Signature ")
	}
	for _, param := range strings.Split(sig, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && key == "headers" {
			return strings.Fields(strings.ToLower(strings.Trim(value, `"`)))
		}
	}
	// "date" is the default list when the parameter is absent
	return []string{"date"}
}

func containsHeader(list []string, name string) bool {
	for _, h := range list {
		if h == name {
			return true
		}
	}
	return false
}

// KeyOwner strips the fragment from a keyId.
func KeyOwner(keyId string) string {
	owner, _, _ := strings.Cut(keyId, "#")
	return owner
}

// ParsePrivateKey converts a PKCS#1 or PKCS#8 PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey converts a PKIX or PKCS#1 PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPubKey, nil
}
