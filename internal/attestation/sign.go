package attestation

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DecodeSignature accepts base64url or standard base64, with or without
// padding.
func DecodeSignature(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if s == "" {
		return []byte{}, nil
	}
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// Sign returns the unpadded base64url signature over a's canonical payload.
func Sign(priv ed25519.PrivateKey, a BuildAttestation) string {
	sig := ed25519.Sign(priv, []byte(a.CanonicalPayload()))
	return base64.RawURLEncoding.EncodeToString(sig)
}

// Manifest is the on-disk form of a signed build claim.
type Manifest struct {
	BuildID   string `toml:"build_id"`
	JarSHA256 string `toml:"jar_sha256"`
	IssuedAt  string `toml:"issued_at"`
	Signature string `toml:"signature"`
}

// Attestation combines m with the running mod version.
func (m Manifest) Attestation(modVersion string) BuildAttestation {
	return New(modVersion, m.BuildID, m.JarSHA256, m.IssuedAt, m.Signature)
}

func (m Manifest) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(m)
}

// NewManifest hashes the artifact at path and signs the resulting claim.
func NewManifest(priv ed25519.PrivateKey, modVersion, buildID, path string, issuedAt time.Time) (Manifest, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Manifest{}, errors.New("attestation: invalid ed25519 private key")
	}
	digest, err := HashFile(path)
	if err != nil {
		return Manifest{}, err
	}
	a := New(modVersion, buildID, digest, issuedAt.UTC().Format(time.RFC3339), "")
	return Manifest{
		BuildID:   a.BuildID(),
		JarSHA256: a.JarSHA256(),
		IssuedAt:  a.IssuedAt(),
		Signature: Sign(priv, a),
	}, nil
}
