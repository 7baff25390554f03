package attestation

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/companion/internal/auth"
	"github.com/danmuck/companion/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	priv     ed25519.PrivateKey
	verifier *Verifier
	clock    *clock.Mock
	artifact string
	digest   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	spki, err := auth.EncodeSPKIKey(pub)
	require.NoError(t, err)

	mock := clock.NewMock()
	mock.Set(testNow)

	artifact := filepath.Join(t.TempDir(), "companion.jar")
	require.NoError(t, os.WriteFile(artifact, []byte("official build bytes"), 0o600))
	digest, err := HashFile(artifact)
	require.NoError(t, err)

	return fixture{
		priv:     priv,
		verifier: NewVerifierWithKey(spki, mock),
		clock:    mock,
		artifact: artifact,
		digest:   digest,
	}
}

func (f fixture) signed(t *testing.T, issuedAt time.Time) BuildAttestation {
	t.Helper()
	base := New("0.3.1", "build-42", f.digest, issuedAt.Format(time.RFC3339), "")
	return New("0.3.1", "build-42", f.digest, issuedAt.Format(time.RFC3339), Sign(f.priv, base))
}

func TestSanitizeAndStructuredVersion(t *testing.T) {
	a := New("  ", "a;b", " abc ", "", "sig")
	require.Equal(t, Unknown, a.ModVersion())
	require.Equal(t, "a_b", a.BuildID())
	require.Equal(t, "abc", a.JarSHA256())
	require.Equal(t, Unknown, a.IssuedAt())
	require.Equal(t, "mod=UNKNOWN;build=a_b;sha256=abc;iat=UNKNOWN", a.CanonicalPayload())
	require.Equal(t, "mod=UNKNOWN;build=a_b;sha256=abc;iat=UNKNOWN;sig=sig;signature=sig", a.StructuredClientVersion())
	require.True(t, a.IsSigned())
}

func TestUnsigned(t *testing.T) {
	u := Unsigned("0.3.1")
	require.False(t, u.IsSigned())
	require.Equal(t, "mod=0.3.1;build=dev-local;sha256=unknown;iat=unknown;sig=UNSIGNED;signature=UNSIGNED", u.StructuredClientVersion())
	require.False(t, New("v", "b", "s", "i", "UNKNOWN").IsSigned())
	require.False(t, New("v", "b", "s", "i", "").IsSigned())
}

func TestVerifySignedMetadataValid(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	res := f.verifier.VerifySignedMetadata(f.signed(t, testNow.Add(-time.Hour)))
	require.True(t, res.Valid, res.Reason)
	require.Empty(t, res.Reason)
}

func TestVerifySignedMetadataFailures(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	good := f.signed(t, testNow)
	sig := good.Signature()
	flipped := []byte(f.digest)
	if flipped[0] == '0' {
		flipped[0] = '1'
	} else {
		flipped[0] = '0'
	}

	tests := []struct {
		name   string
		att    BuildAttestation
		reason string
	}{
		{name: "unsigned", att: Unsigned("0.3.1"), reason: "attestation signature missing"},
		{name: "short sha", att: New("0.3.1", "b", "abc", testNow.Format(time.RFC3339), sig), reason: "attestation sha256 is not 64-char hex"},
		{name: "non hex sha", att: New("0.3.1", "b", strings.Repeat("z", 64), testNow.Format(time.RFC3339), sig), reason: "attestation sha256 is not 64-char hex"},
		{name: "bad instant", att: New("0.3.1", "b", f.digest, "yesterday", sig), reason: "attestation issuedAt is not valid ISO-8601 instant"},
		{name: "future", att: f.signed(t, testNow.Add(6*time.Minute)), reason: "attestation issuedAt is too far in the future"},
		{name: "too old", att: f.signed(t, testNow.Add(-MaxAttestationAge-time.Hour)), reason: "attestation issuedAt is too old"},
		{name: "bad base64", att: New("0.3.1", "build-42", f.digest, testNow.Format(time.RFC3339), "!!!!"), reason: "attestation signature is not valid base64/base64url"},
		{name: "short signature", att: New("0.3.1", "build-42", f.digest, testNow.Format(time.RFC3339), "AAAA"), reason: "attestation signature length is invalid"},
		{name: "altered sha digit", att: New("0.3.1", "build-42", string(flipped), testNow.Format(time.RFC3339), sig), reason: "attestation signature verification failed"},
		{name: "tampered", att: New("0.3.2", "build-42", f.digest, testNow.Format(time.RFC3339), sig), reason: "attestation signature verification failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := f.verifier.VerifySignedMetadata(tc.att)
			require.False(t, res.Valid)
			require.Equal(t, tc.reason, res.Reason)
		})
	}
}

func TestVerifySignedMetadataSkewBoundary(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	require.True(t, f.verifier.VerifySignedMetadata(f.signed(t, testNow.Add(MaxIssuedAtFutureSkew))).Valid)
	f.clock.Set(testNow.Add(-time.Second))
	require.False(t, f.verifier.VerifySignedMetadata(f.signed(t, testNow.Add(MaxIssuedAtFutureSkew))).Valid)
}

func TestDecodeSignatureForms(t *testing.T) {
	raw := make([]byte, 64)
	for i := range raw {
		raw[i] = byte(250 - i)
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		got, err := DecodeSignature(" " + enc.EncodeToString(raw) + " ")
		require.NoError(t, err)
		require.Equal(t, raw, got)
	}
	empty, err := DecodeSignature("   ")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestPinnedVerifierRejectsForeignSignature(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	mock := clock.NewMock()
	mock.Set(testNow)
	v := NewVerifierWithKey(PinnedPublicKeySPKI, mock)

	base := New("0.3.1", "b", strings.Repeat("a", 64), testNow.Format(time.RFC3339), "")
	res := v.VerifySignedMetadata(New("0.3.1", "b", strings.Repeat("a", 64), testNow.Format(time.RFC3339), Sign(priv, base)))
	require.False(t, res.Valid)
	require.Equal(t, "attestation signature verification failed", res.Reason, "pinned key must parse")
}

func TestVerifierWithBadKeyReportsReason(t *testing.T) {
	f := newFixture(t)
	v := NewVerifierWithKey("garbage", f.clock)
	res := v.VerifySignedMetadata(f.signed(t, testNow))
	require.False(t, res.Valid)
	require.True(t, strings.HasPrefix(res.Reason, "attestation signature verification failed: "), res.Reason)
}

func TestVerifyArtifactSHA256(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	att := f.signed(t, testNow)
	require.True(t, f.verifier.VerifyArtifactSHA256(att, f.artifact).Valid)

	upper := New("0.3.1", "b", strings.ToUpper(f.digest), testNow.Format(time.RFC3339), "x")
	require.True(t, f.verifier.VerifyArtifactSHA256(upper, f.artifact).Valid, "compare is case-insensitive")

	res := f.verifier.VerifyArtifactSHA256(att, filepath.Join(t.TempDir(), "missing.jar"))
	require.Equal(t, "artifact file not found", res.Reason)

	res = f.verifier.VerifyArtifactSHA256(att, t.TempDir())
	require.Equal(t, "artifact file not found", res.Reason)

	require.NoError(t, os.WriteFile(f.artifact, []byte("patched"), 0o600))
	res = f.verifier.VerifyArtifactSHA256(att, f.artifact)
	require.False(t, res.Valid)
	require.True(t, strings.HasPrefix(res.Reason, "runtime artifact hash mismatch (expected "+f.digest), res.Reason)
}

func TestVerifyRuntimeArtifactRejectsBadDigestFirst(t *testing.T) {
	res := NewVerifier().VerifyRuntimeArtifact(Unsigned("0.3.1"))
	require.Equal(t, "attestation sha256 is not 64-char hex", res.Reason)
}

type fakeRecorder struct {
	outcomes []string
}

func (f *fakeRecorder) RecordAttestation(outcome string) {
	f.outcomes = append(f.outcomes, outcome)
}

func manifestFS(t *testing.T, m Manifest) fstest.MapFS {
	t.Helper()
	var b strings.Builder
	require.NoError(t, m.Encode(&b))
	return fstest.MapFS{ManifestFile: &fstest.MapFile{Data: []byte(b.String())}}
}

func TestLoaderVerifiedManifest(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	m, err := NewManifest(f.priv, "0.3.1", "build-42", f.artifact, testNow.Add(-time.Minute))
	require.NoError(t, err)

	rec := &fakeRecorder{}
	l := Loader{FS: manifestFS(t, m), Verifier: f.verifier, ArtifactPath: f.artifact, Logger: testlog.Logger(t), Metrics: rec}
	att := l.Load("0.3.1")
	require.True(t, att.IsSigned())
	require.Equal(t, "build-42", att.BuildID())
	require.Equal(t, f.digest, att.JarSHA256())
	require.Equal(t, []string{OutcomeSigned}, rec.outcomes)
}

func TestLoaderDowngrades(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	m, err := NewManifest(f.priv, "0.3.1", "build-42", f.artifact, testNow)
	require.NoError(t, err)

	otherArtifact := filepath.Join(t.TempDir(), "other.jar")
	require.NoError(t, os.WriteFile(otherArtifact, []byte("rebuilt"), 0o600))

	tests := []struct {
		name     string
		fsys     fstest.MapFS
		artifact string
		modVer   string
		outcome  string
	}{
		{name: "no manifest", fsys: fstest.MapFS{}, artifact: f.artifact, modVer: "0.3.1", outcome: OutcomeMissing},
		{name: "broken toml", fsys: fstest.MapFS{ManifestFile: &fstest.MapFile{Data: []byte("build_id = ")}}, artifact: f.artifact, modVer: "0.3.1", outcome: OutcomeUnreadable},
		{name: "wrong mod version", fsys: manifestFS(t, m), artifact: f.artifact, modVer: "0.3.2", outcome: OutcomeSignatureFailed},
		{name: "unsigned manifest", fsys: fstest.MapFS{ManifestFile: &fstest.MapFile{Data: []byte(`build_id = "b"`)}}, artifact: f.artifact, modVer: "0.3.1", outcome: OutcomeSignatureFailed},
		{name: "artifact mismatch", fsys: manifestFS(t, m), artifact: otherArtifact, modVer: "0.3.1", outcome: OutcomeArtifactFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			l := Loader{FS: tc.fsys, Verifier: f.verifier, ArtifactPath: tc.artifact, Logger: testlog.Logger(t), Metrics: rec}
			att := l.Load(tc.modVer)
			require.Equal(t, Unsigned(tc.modVer), att)
			require.Equal(t, []string{tc.outcome}, rec.outcomes)
		})
	}
}

func TestLoaderNilFSIsMissing(t *testing.T) {
	rec := &fakeRecorder{}
	att := Loader{Metrics: rec}.Load("0.3.1")
	require.Equal(t, Unsigned("0.3.1"), att)
	require.Equal(t, []string{OutcomeMissing}, rec.outcomes)
	require.Nil(t, DirFS("  "))
}

func TestSanitizeProof(t *testing.T) {
	require.Equal(t, "tok-123", SanitizeProof("  tok-123 \n"))
	require.Empty(t, SanitizeProof("a;b"))
	require.Empty(t, SanitizeProof("a\rb"))
	require.Empty(t, SanitizeProof("a\nb"))
	require.Empty(t, SanitizeProof(strings.Repeat("x", MaxLauncherProofSize+1)))
	require.Equal(t, MaxLauncherProofSize, len(SanitizeProof(strings.Repeat("x", MaxLauncherProofSize))))
}

func TestLauncherProofFromEnv(t *testing.T) {
	env := map[string]string{EnvLauncherProof: " env-token "}
	p := &LauncherProof{Getenv: func(k string) string { return env[k] }, Logger: testlog.Logger(t)}
	require.Equal(t, "mod=x;proof=env-token", p.Apply("mod=x"))

	env[EnvLauncherProof] = "changed"
	require.Equal(t, "env-token", p.Token(), "token resolves once")
}

func TestLauncherProofFromFileIsOneShot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proof.txt")
	require.NoError(t, os.WriteFile(path, []byte("file-token\n"), 0o600))
	env := map[string]string{EnvLauncherProof: "bad;token", EnvLauncherProofFile: path}

	p := &LauncherProof{Getenv: func(k string) string { return env[k] }}
	require.Equal(t, "file-token", p.Token())
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "proof file must be deleted after reading")

	none := &LauncherProof{Getenv: func(string) string { return "" }}
	require.Equal(t, "mod=x", none.Apply("mod=x"))
}
