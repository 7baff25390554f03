package auth

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/ed448"
	"golang.org/x/crypto/ssh"
)

var ErrInvalidKey = errors.New("auth: invalid trusted key")

// TrustedKey verifies a detached signature over a message.
type TrustedKey interface {
	Algorithm() string
	Verify(message, sig []byte) bool
}

type ed25519Key ed25519.PublicKey

func (ed25519Key) Algorithm() string { return "ed25519" }

func (k ed25519Key) Verify(message, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(k), message, sig)
}

type ed448Key ed448.PublicKey

func (ed448Key) Algorithm() string { return "ed448" }

func (k ed448Key) Verify(message, sig []byte) bool {
	if len(sig) != ed448.SignatureSize {
		return false
	}
	return ed448.Verify(ed448.PublicKey(k), message, sig, "")
}

// ParseTrustedKey accepts:
//   - base64 X.509 SubjectPublicKeyInfo holding an Ed25519 key
//   - ed25519:<base64 raw 32-byte key>
//   - ed448:<base64 raw 57-byte key>
//   - an OpenSSH authorized_keys line of type ssh-ed25519
func ParseTrustedKey(encoded string) (TrustedKey, error) {
	s := strings.TrimSpace(encoded)
	switch {
	case s == "":
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasPrefix(s, ssh.KeyAlgoED25519+" "):
		return parseAuthorizedKey(s)
	case strings.HasPrefix(strings.ToLower(s), "ed25519:"):
		raw, err := decodeKeyBytes(s[len("ed25519:"):])
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: ed25519 key is %d bytes", ErrInvalidKey, len(raw))
		}
		return ed25519Key(raw), nil
	case strings.HasPrefix(strings.ToLower(s), "ed448:"):
		raw, err := decodeKeyBytes(s[len("ed448:"):])
		if err != nil {
			return nil, err
		}
		if len(raw) != ed448.PublicKeySize {
			return nil, fmt.Errorf("%w: ed448 key is %d bytes", ErrInvalidKey, len(raw))
		}
		return ed448Key(raw), nil
	default:
		return ParseSPKIKey(s)
	}
}

// ParseSPKIKey decodes a standard base64 DER SubjectPublicKeyInfo that must
// hold an Ed25519 key.
func ParseSPKIKey(encoded string) (TrustedKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: SPKI key is %T, want ed25519", ErrInvalidKey, pub)
	}
	return ed25519Key(key), nil
}

// EncodeSPKIKey renders an Ed25519 public key in the SPKI base64 form.
func EncodeSPKIKey(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func parseAuthorizedKey(line string) (TrustedKey, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: ssh key type %s", ErrInvalidKey, pub.Type())
	}
	key, ok := cpk.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: ssh key type %s", ErrInvalidKey, pub.Type())
	}
	return ed25519Key(key), nil
}

func decodeKeyBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(s); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("%w: key is not base64", ErrInvalidKey)
}
