package attestation

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	EnvLauncherProof     = "COMPANION_LAUNCHER_PROOF"
	EnvLauncherProofFile = "COMPANION_LAUNCHER_PROOF_FILE"
	MaxLauncherProofSize = 1536
)

// LauncherProof resolves an optional launcher token once per process. The
// token comes from EnvLauncherProof, else from the file named by
// EnvLauncherProofFile, which is deleted after reading.
type LauncherProof struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	Logger zerolog.Logger

	once  sync.Once
	proof string
}

// Token returns the sanitised proof, or "" when none is available.
func (p *LauncherProof) Token() string {
	p.once.Do(func() {
		getenv := p.Getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		proof := SanitizeProof(getenv(EnvLauncherProof))
		if proof == "" {
			proof = SanitizeProof(p.readProofFile(getenv(EnvLauncherProofFile)))
		}
		p.proof = proof
		if proof != "" {
			p.Logger.Info().Msg("launcher proof token attached to ClientHello")
		}
	})
	return p.proof
}

// Apply appends ";proof=<token>" to a structured client version when a token
// is available.
func (p *LauncherProof) Apply(structuredVersion string) string {
	if tok := p.Token(); tok != "" {
		return structuredVersion + ";proof=" + tok
	}
	return structuredVersion
}

func (p *LauncherProof) readProofFile(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.Logger.Debug().Err(err).Msg("failed to read launcher proof file")
		return ""
	}
	if err := os.Remove(path); err != nil {
		p.Logger.Debug().Err(err).Msg("failed to delete launcher proof file")
	}
	return string(data)
}

// SanitizeProof trims raw and rejects tokens containing separators or line
// breaks, or longer than MaxLauncherProofSize bytes.
func SanitizeProof(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, ";\r\n") || len(s) > MaxLauncherProofSize {
		return ""
	}
	return s
}
