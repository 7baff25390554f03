package auth

import (
	"crypto/ed25519"
	"fmt"

	"github.com/danmuck/companion/internal/protocol"
	"github.com/rs/zerolog"
)

// Signature check outcomes reported to Recorder.
const (
	OutcomeVerified      = "verified"
	OutcomeRejected      = "rejected"
	OutcomeSkipped       = "skipped"
	OutcomeLogOnlyBypass = "log_only_bypass"
)

// SignatureCheck decides whether a ServerHello is trusted.
type SignatureCheck interface {
	VerifyServerHello(hello protocol.ServerHello) bool
}

// SignatureCheckFunc adapts a function into a SignatureCheck.
type SignatureCheckFunc func(hello protocol.ServerHello) bool

func (f SignatureCheckFunc) VerifyServerHello(hello protocol.ServerHello) bool {
	return f(hello)
}

// Recorder receives one outcome per signature check.
type Recorder interface {
	RecordSignatureCheck(policy, outcome string)
}

// CanonicalHelloPayload is the exact text a server signs. Flags render as a
// signed 32-bit decimal.
func CanonicalHelloPayload(hello protocol.ServerHello) string {
	return fmt.Sprintf("v=%d;serverId=%s;plugin=%s;flags=%d",
		protocol.ProtocolVersion, hello.ServerID, hello.PluginVersion, int32(hello.FeatureFlags))
}

// VerifySignature reports whether any of keys verifies the hello signature.
// An absent signature or an empty key set fails. A key that cannot be
// parsed only fails itself.
func VerifySignature(hello protocol.ServerHello, keys []string) bool {
	if !hello.HasSignature() || len(keys) == 0 {
		return false
	}
	payload := []byte(CanonicalHelloPayload(hello))
	for _, encoded := range keys {
		key, err := ParseTrustedKey(encoded)
		if err != nil {
			continue
		}
		if key.Verify(payload, hello.Signature) {
			return true
		}
	}
	return false
}

// SignServerHello returns hello with an Ed25519 signature over its
// canonical payload attached.
func SignServerHello(priv ed25519.PrivateKey, hello protocol.ServerHello) protocol.ServerHello {
	hello.Signature = protocol.Signature(ed25519.Sign(priv, []byte(CanonicalHelloPayload(hello))))
	return hello
}

// Decision is the full outcome of HelloVerifier.Check.
type Decision struct {
	Trusted  bool
	Verified bool
	Reason   string
}

// HelloVerifier applies Policy to signature verification against Keys.
type HelloVerifier struct {
	Policy  Policy
	Keys    []string
	Logger  zerolog.Logger
	Metrics Recorder
}

func NewHelloVerifier(policy Policy, keys []string, logger zerolog.Logger, metrics Recorder) *HelloVerifier {
	return &HelloVerifier{
		Policy:  NormalizePolicy(policy),
		Keys:    keys,
		Logger:  logger,
		Metrics: metrics,
	}
}

func (v *HelloVerifier) Check(hello protocol.ServerHello) Decision {
	policy := NormalizePolicy(v.Policy)
	if policy == PolicyOff {
		v.record(policy, OutcomeSkipped)
		return Decision{Trusted: true, Reason: "signature verification off"}
	}
	if VerifySignature(hello, v.Keys) {
		v.record(policy, OutcomeVerified)
		return Decision{Trusted: true, Verified: true}
	}

	reason := failureReason(hello, v.Keys)
	if policy == PolicyLogOnly {
		v.Logger.Warn().
			Str("server_id", hello.ServerID).
			Str("reason", reason).
			Msg("server hello signature verification failed in LOG_ONLY mode")
		v.record(policy, OutcomeLogOnlyBypass)
		return Decision{Trusted: true, Reason: reason}
	}
	v.record(policy, OutcomeRejected)
	return Decision{Reason: reason}
}

// VerifyServerHello implements SignatureCheck.
func (v *HelloVerifier) VerifyServerHello(hello protocol.ServerHello) bool {
	return v.Check(hello).Trusted
}

func (v *HelloVerifier) record(policy Policy, outcome string) {
	if v.Metrics != nil {
		v.Metrics.RecordSignatureCheck(policy.String(), outcome)
	}
}

func failureReason(hello protocol.ServerHello, keys []string) string {
	switch {
	case !hello.HasSignature():
		return "signature missing"
	case len(keys) == 0:
		return "no trusted keys configured"
	default:
		return "no trusted key verified the signature"
	}
}
