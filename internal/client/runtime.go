package client

import (
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/companion/internal/attestation"
	"github.com/danmuck/companion/internal/auth"
	"github.com/danmuck/companion/internal/config"
	"github.com/danmuck/companion/internal/protocol"
	"github.com/danmuck/companion/internal/session"
	"github.com/rs/zerolog"
)

// ClientCapabilities is advertised in every ClientHello.
const ClientCapabilities uint32 = 127

// Drop reasons reported in Outcome and to Recorder, in addition to the
// protocol.FrameErrorKind names.
const (
	DropGateClosed        = "gate_closed"
	DropWrongDirection    = "wrong_direction"
	DropUnknownMarkerType = "unknown_marker_type"
)

var ErrCannotSend = errors.New("client: channel cannot send")

// Sender is the transport collaborator that carries encoded payloads.
type Sender interface {
	CanSend() bool
	Send(payload []byte) error
}

// Recorder receives runtime events. observability.Recorder satisfies it.
type Recorder interface {
	auth.Recorder
	RecordFrameDecoded(messageType string)
	RecordFrameDropped(reason string)
	RecordHandshake(result string)
}

// ConfigStore persists feature toggle changes. config.Manager satisfies it.
type ConfigStore interface {
	Save(cfg config.Companion) error
}

type Options struct {
	Config      config.Companion
	Attestation attestation.BuildAttestation
	// Proof is optional; when set its token is appended to the client
	// version.
	Proof  *attestation.LauncherProof
	Sender Sender
	Logger zerolog.Logger
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Verifier defaults to an auth.HelloVerifier built from Config.
	Verifier auth.SignatureCheck
	Metrics  Recorder
	Store    ConfigStore
	// Notify receives user-visible messages. Optional.
	Notify func(msg string)

	RetryBudget int
	Backoff     session.BackoffConfig
}

// Outcome describes what HandlePayload did with one payload.
type Outcome struct {
	Type      protocol.MessageType
	Dropped   string
	Handshake session.EnableResult
}

// Runtime is the per-process companion client.
type Runtime struct {
	mu sync.Mutex

	cfg            config.Companion
	attestation    attestation.BuildAttestation
	proof          *attestation.LauncherProof
	sender         Sender
	logger         zerolog.Logger
	clock          clock.Clock
	customVerifier auth.SignatureCheck
	verifier       auth.SignatureCheck
	metrics        Recorder
	store          ConfigStore
	notify         func(string)

	session                *session.Session
	retry                  *session.HelloRetry
	helloUnavailableLogged bool
}

func New(opts Options) *Runtime {
	cfg := opts.Config.Clone()
	cfg.Sanitize()
	cfg.EnsureFeatureDefaults()

	r := &Runtime{
		cfg:            cfg,
		attestation:    opts.Attestation,
		proof:          opts.Proof,
		sender:         opts.Sender,
		logger:         opts.Logger,
		clock:          opts.Clock,
		customVerifier: opts.Verifier,
		metrics:        opts.Metrics,
		store:          opts.Store,
		notify:         opts.Notify,
		session:        session.New(),
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.metrics == nil {
		r.metrics = nopRecorder{}
	}
	if r.attestation == (attestation.BuildAttestation{}) {
		r.attestation = attestation.Unsigned("")
	}
	budget := opts.RetryBudget
	if budget == 0 {
		budget = session.DefaultHelloRetryBudget
	}
	backoff := opts.Backoff
	if backoff == (session.BackoffConfig{}) {
		backoff = session.DefaultBackoffConfig()
	}
	r.retry = session.NewHelloRetry(budget, backoff, nil)
	r.rebuildVerifierLocked()
	return r
}

// OnJoin starts a new connection: state is reset and a ClientHello is
// attempted immediately.
func (r *Runtime) OnJoin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Reset()
	r.retry.Arm(r.clock.Now())
	r.helloUnavailableLogged = false
	r.attemptSendHelloLocked()
}

func (r *Runtime) OnDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Reset()
	r.retry.Disarm()
	r.helloUnavailableLogged = false
}

// Tick retries ClientHello while it is unsent and the budget allows.
func (r *Runtime) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if r.session.HelloSent() || !r.retry.Due(now) {
		return
	}
	r.retry.Consume(now)
	r.attemptSendHelloLocked()
}

// ClientVersion is the structured version string carried by ClientHello.
func (r *Runtime) ClientVersion() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientVersionLocked()
}

// UpdateConfig replaces the active config. The default verifier is rebuilt
// from the new policy and keys.
func (r *Runtime) UpdateConfig(cfg config.Companion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg = cfg.Clone()
	cfg.Sanitize()
	cfg.EnsureFeatureDefaults()
	r.cfg = cfg
	r.rebuildVerifierLocked()
}

// Config returns a copy of the active config.
func (r *Runtime) Config() config.Companion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Clone()
}

// ShouldOverrideCodec reports whether payloads on channelID are taken as
// raw bytes instead of going through the host codec.
func (r *Runtime) ShouldOverrideCodec(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.ShouldOverrideCodec(channelID)
}

func (r *Runtime) clientVersionLocked() string {
	v := r.attestation.StructuredClientVersion()
	if r.proof != nil {
		v = r.proof.Apply(v)
	}
	return v
}

func (r *Runtime) attemptSendHelloLocked() {
	if r.session.HelloSent() {
		return
	}
	if r.sender == nil || !r.sender.CanSend() {
		if !r.helloUnavailableLogged {
			r.helloUnavailableLogged = true
			r.logger.Debug().Msg("ClientHello postponed because channel cannot send yet")
		}
		return
	}
	r.helloUnavailableLogged = false

	if err := r.sendLocked(protocol.ClientHello{
		ModVersion:   r.clientVersionLocked(),
		Capabilities: ClientCapabilities,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("ClientHello send failed")
		return
	}
	r.session.MarkHelloSent()
}

func (r *Runtime) sendLocked(msg protocol.Message) error {
	if r.sender == nil || !r.sender.CanSend() {
		return ErrCannotSend
	}
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return r.sender.Send(b)
}

func (r *Runtime) rebuildVerifierLocked() {
	if r.customVerifier != nil {
		r.verifier = r.customVerifier
		return
	}
	r.verifier = auth.NewHelloVerifier(r.cfg.Policy(), r.cfg.ServerSignaturePublicKeys, r.logger, r.metrics)
}

type nopRecorder struct{}

func (nopRecorder) RecordSignatureCheck(string, string) {}
func (nopRecorder) RecordFrameDecoded(string)           {}
func (nopRecorder) RecordFrameDropped(string)           {}
func (nopRecorder) RecordHandshake(string)              {}
