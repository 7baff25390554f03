// Package attestation models the signed claim that a client build is
// official, and verifies it against a pinned key and the running artifact.
//
// Nothing in this package fails hard: any problem downgrades to an unsigned
// attestation plus a reason.
package attestation

import (
	"strings"
)

const (
	Unknown         = "UNKNOWN"
	UnsignedMarker  = "UNSIGNED"
	DevLocalBuildID = "dev-local"
	unknownValue    = "unknown"
)

// BuildAttestation is immutable after construction. Every field has been
// sanitised: trimmed, never blank, and free of ';'.
type BuildAttestation struct {
	modVersion string
	buildID    string
	jarSHA256  string
	issuedAt   string
	signature  string
}

func New(modVersion, buildID, jarSHA256, issuedAt, signature string) BuildAttestation {
	return BuildAttestation{
		modVersion: sanitize(modVersion),
		buildID:    sanitize(buildID),
		jarSHA256:  sanitize(jarSHA256),
		issuedAt:   sanitize(issuedAt),
		signature:  sanitize(signature),
	}
}

// Unsigned is the local-development attestation.
func Unsigned(modVersion string) BuildAttestation {
	return New(modVersion, DevLocalBuildID, unknownValue, unknownValue, UnsignedMarker)
}

func (a BuildAttestation) ModVersion() string { return a.modVersion }
func (a BuildAttestation) BuildID() string    { return a.buildID }
func (a BuildAttestation) JarSHA256() string  { return a.jarSHA256 }
func (a BuildAttestation) IssuedAt() string   { return a.issuedAt }
func (a BuildAttestation) Signature() string  { return a.signature }

// IsSigned reports whether a signature value is present. It says nothing
// about validity.
func (a BuildAttestation) IsSigned() bool {
	return a.signature != UnsignedMarker && a.signature != Unknown && a.signature != ""
}

// CanonicalPayload is the exact text covered by the build signature.
func (a BuildAttestation) CanonicalPayload() string {
	return "mod=" + a.modVersion +
		";build=" + a.buildID +
		";sha256=" + a.jarSHA256 +
		";iat=" + a.issuedAt
}

// StructuredClientVersion is the ClientHello version string. The signature
// is emitted under both sig and signature for servers reading either key.
func (a BuildAttestation) StructuredClientVersion() string {
	return a.CanonicalPayload() +
		";sig=" + a.signature +
		";signature=" + a.signature
}

func sanitize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return Unknown
	}
	return strings.ReplaceAll(v, ";", "_")
}
