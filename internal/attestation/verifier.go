package attestation

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/companion/internal/auth"
	"github.com/minio/sha256-simd"
)

// PinnedPublicKeySPKI is the base64 SPKI Ed25519 key that signs official
// builds.
const PinnedPublicKeySPKI = "MCowBQYDK2VwAyEAdvjSMc5qu8vFHmhTNDJY4FA/yBcNS82m3zHFEOAyBAE="

const (
	MaxIssuedAtFutureSkew = 5 * time.Minute
	MaxAttestationAge     = 3650 * 24 * time.Hour
)

// VerificationResult carries a reason iff Valid is false.
type VerificationResult struct {
	Valid  bool
	Reason string
}

func success() VerificationResult {
	return VerificationResult{Valid: true}
}

func invalid(format string, args ...any) VerificationResult {
	return VerificationResult{Reason: fmt.Sprintf(format, args...)}
}

// Verifier checks attestations against one pinned key. It is stateless and
// safe for concurrent use.
type Verifier struct {
	key    auth.TrustedKey
	keyErr error
	clock  clock.Clock
}

// NewVerifier uses the pinned production key and the wall clock.
func NewVerifier() *Verifier {
	return NewVerifierWithKey(PinnedPublicKeySPKI, clock.New())
}

// NewVerifierWithKey accepts the Ed25519 key forms of auth.ParseTrustedKey.
// A bad key is reported by every verification rather than here.
func NewVerifierWithKey(encodedKey string, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.New()
	}
	key, err := auth.ParseTrustedKey(encodedKey)
	return &Verifier{key: key, keyErr: err, clock: clk}
}

// VerifySignedMetadata checks shape, freshness and the signature over
// CanonicalPayload, stopping at the first failure.
func (v *Verifier) VerifySignedMetadata(a BuildAttestation) VerificationResult {
	if !a.IsSigned() {
		return invalid("attestation signature missing")
	}
	if !isHexSHA256(a.JarSHA256()) {
		return invalid("attestation sha256 is not 64-char hex")
	}
	issuedAt, err := time.Parse(time.RFC3339, a.IssuedAt())
	if err != nil {
		return invalid("attestation issuedAt is not valid ISO-8601 instant")
	}
	now := v.clock.Now()
	if issuedAt.After(now.Add(MaxIssuedAtFutureSkew)) {
		return invalid("attestation issuedAt is too far in the future")
	}
	if issuedAt.Before(now.Add(-MaxAttestationAge)) {
		return invalid("attestation issuedAt is too old")
	}
	sig, err := DecodeSignature(a.Signature())
	if err != nil {
		return invalid("attestation signature is not valid base64/base64url")
	}
	if len(sig) != ed25519.SignatureSize {
		return invalid("attestation signature length is invalid")
	}
	if v.keyErr != nil {
		return invalid("attestation signature verification failed: %v", v.keyErr)
	}
	if !v.key.Verify([]byte(a.CanonicalPayload()), sig) {
		return invalid("attestation signature verification failed")
	}
	return success()
}

// VerifyArtifactSHA256 hashes the regular file at path and compares it with
// the attested digest, case-insensitively.
func (v *Verifier) VerifyArtifactSHA256(a BuildAttestation, path string) VerificationResult {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return invalid("artifact file not found")
	}
	expected := strings.ToLower(a.JarSHA256())
	if !isHexSHA256(expected) {
		return invalid("attestation sha256 is not 64-char hex")
	}
	actual, err := HashFile(path)
	if err != nil {
		return invalid("failed to hash runtime artifact: %v", err)
	}
	if actual != expected {
		return invalid("runtime artifact hash mismatch (expected %s, got %s)", expected, actual)
	}
	return success()
}

// VerifyRuntimeArtifact checks the attestation against the running
// executable.
func (v *Verifier) VerifyRuntimeArtifact(a BuildAttestation) VerificationResult {
	if !isHexSHA256(a.JarSHA256()) {
		return invalid("attestation sha256 is not 64-char hex")
	}
	path, err := RuntimeArtifactPath()
	if err != nil {
		return invalid("runtime artifact path unavailable")
	}
	return v.VerifyArtifactSHA256(a, path)
}

// RuntimeArtifactPath resolves the running executable through symlinks.
func RuntimeArtifactPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

// HashFile streams path through SHA-256 and returns lower-case hex.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isHexSHA256(s string) bool {
	if len(s) != 2*sha256.Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
