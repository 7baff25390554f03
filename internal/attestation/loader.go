package attestation

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// ManifestFile is the manifest name looked up in Loader.FS.
const ManifestFile = "official-build.toml"

// Attestation load outcomes reported to Recorder.
const (
	OutcomeSigned          = "signed"
	OutcomeMissing         = "missing"
	OutcomeUnreadable      = "unreadable"
	OutcomeSignatureFailed = "signature_failed"
	OutcomeArtifactFailed  = "artifact_failed"
)

// Recorder receives one outcome per Load.
type Recorder interface {
	RecordAttestation(outcome string)
}

// Loader produces the attestation sent in ClientHello.
type Loader struct {
	// FS holds the manifest. Nil means no manifest.
	FS fs.FS
	// Verifier defaults to NewVerifier().
	Verifier *Verifier
	// ArtifactPath is the hashed artifact; empty means the running
	// executable.
	ArtifactPath string
	Logger       zerolog.Logger
	Metrics      Recorder
}

// Load never fails. A missing or unreadable manifest yields Unsigned
// without verification; a manifest that fails signature or artifact
// verification also yields Unsigned.
func (l Loader) Load(modVersion string) BuildAttestation {
	m, err := l.readManifest()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.Logger.Warn().Str("manifest", ManifestFile).Msg("no build manifest found, using unsigned local attestation")
			l.record(OutcomeMissing)
		} else {
			l.Logger.Warn().Err(err).Str("manifest", ManifestFile).Msg("failed to read build manifest, using unsigned local attestation")
			l.record(OutcomeUnreadable)
		}
		return Unsigned(modVersion)
	}

	att := m.Attestation(modVersion)
	v := l.Verifier
	if v == nil {
		v = NewVerifier()
	}
	if res := v.VerifySignedMetadata(att); !res.Valid {
		l.Logger.Warn().Str("reason", res.Reason).Msg("build attestation rejected, using unsigned local attestation")
		l.record(OutcomeSignatureFailed)
		return Unsigned(modVersion)
	}

	var res VerificationResult
	if strings.TrimSpace(l.ArtifactPath) == "" {
		res = v.VerifyRuntimeArtifact(att)
	} else {
		res = v.VerifyArtifactSHA256(att, l.ArtifactPath)
	}
	if !res.Valid {
		l.Logger.Warn().Str("reason", res.Reason).Msg("runtime artifact does not match attestation, using unsigned local attestation")
		l.record(OutcomeArtifactFailed)
		return Unsigned(modVersion)
	}

	l.Logger.Info().Str("build_id", att.BuildID()).Msg("official build attestation verified")
	l.record(OutcomeSigned)
	return att
}

// readManifest fills keys absent from the file with the unsigned defaults.
func (l Loader) readManifest() (Manifest, error) {
	if l.FS == nil {
		return Manifest{}, fs.ErrNotExist
	}
	var raw Manifest
	meta, err := toml.DecodeFS(l.FS, ManifestFile, &raw)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{
		BuildID:   DevLocalBuildID,
		JarSHA256: unknownValue,
		IssuedAt:  unknownValue,
		Signature: UnsignedMarker,
	}
	if meta.IsDefined("build_id") {
		m.BuildID = raw.BuildID
	}
	if meta.IsDefined("jar_sha256") {
		m.JarSHA256 = raw.JarSHA256
	}
	if meta.IsDefined("issued_at") {
		m.IssuedAt = raw.IssuedAt
	}
	if meta.IsDefined("signature") {
		m.Signature = raw.Signature
	}
	return m, nil
}

// DirFS returns the manifest filesystem rooted at dir, or nil when dir is
// blank.
func DirFS(dir string) fs.FS {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return os.DirFS(dir)
}

func (l Loader) record(outcome string) {
	if l.Metrics != nil {
		l.Metrics.RecordAttestation(outcome)
	}
}
