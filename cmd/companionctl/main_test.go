package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/companion/internal/attestation"
	"gopkg.in/yaml.v3"
)

const (
	goldenServerHello = "AQITY29zbWljLXByaXNvbnMtcHJvZAUxLjQuMgU="
	goldenOverlays    = "AQoCAAEFMTIuNUsMAgQ5OTlN"
)

func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"companionctl"}, args...))
	return out.String(), err
}

func TestDecodeGoldenServerHello(t *testing.T) {
	out, err := runApp(t, "", "decode", goldenServerHello)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var doc frameDoc
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("parse output: %v\n%s", err, out)
	}
	if doc.Type != "server_hello" || doc.ServerHello == nil {
		t.Fatalf("unexpected frame: %+v", doc)
	}
	if doc.ServerHello.ServerID != "cosmic-prisons-prod" || doc.ServerHello.FeatureFlags != 5 {
		t.Fatalf("unexpected hello: %+v", doc.ServerHello)
	}
	if doc.ServerHello.Signature != nil {
		t.Fatalf("golden hello carries no signature")
	}
}

func TestDecodeFromStdinAndHex(t *testing.T) {
	out, err := runApp(t, goldenOverlays+"\n", "decode", "-")
	if err != nil {
		t.Fatalf("decode stdin: %v", err)
	}
	if !strings.Contains(out, "display_text: 999M") {
		t.Fatalf("missing overlay in output:\n%s", out)
	}

	if _, err := runApp(t, "", "decode", "--hex", "01630"); err == nil {
		t.Fatalf("expected odd-length hex to fail")
	}
	if _, err := runApp(t, "", "decode", "--hex", "0163"); err == nil {
		t.Fatalf("expected unknown message type to fail")
	}
}

func TestEncodeRoundTripsGoldenOverlays(t *testing.T) {
	decoded, err := runApp(t, "", "decode", goldenOverlays)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "frame.yaml")
	if err := os.WriteFile(path, []byte(decoded), 0o600); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := runApp(t, "", "encode", path)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := strings.TrimSpace(out); got != goldenOverlays {
		t.Fatalf("encode = %q, want %q", got, goldenOverlays)
	}
}

func TestEncodeFromStdin(t *testing.T) {
	in := "type: server_hello\nserver_hello:\n  server_id: cosmic-prisons-prod\n  plugin_version: 1.4.2\n  feature_flags: 5\n"
	out, err := runApp(t, in, "encode")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := strings.TrimSpace(out); got != goldenServerHello {
		t.Fatalf("encode = %q, want %q", got, goldenServerHello)
	}

	if _, err := runApp(t, "type: ping\n", "encode"); err == nil {
		t.Fatalf("expected unknown type to fail")
	}
}

func generateKey(t *testing.T) keyDoc {
	t.Helper()
	out, err := runApp(t, "", "keygen")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var doc keyDoc
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("parse keygen output: %v", err)
	}
	if !strings.HasPrefix(doc.PublicRaw, "ed25519:") || !strings.HasPrefix(doc.PublicSSHKey, "ssh-ed25519 ") {
		t.Fatalf("unexpected key forms: %+v", doc)
	}
	return doc
}

func TestHelloSignAndVerifyWithEveryKeyForm(t *testing.T) {
	key := generateKey(t)
	signed, err := runApp(t, "", "hello", "sign", "--key", key.PrivateKey, "--server-id", "cosmicprisons.com", "--plugin", "1.4.2", "--flags", "34")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	payload := strings.TrimSpace(signed)

	for _, pub := range []string{key.PublicSPKI, key.PublicRaw, key.PublicSSHKey} {
		out, err := runApp(t, "", "hello", "verify", "--public-key", pub, payload)
		if err != nil {
			t.Fatalf("verify with %q: %v\n%s", pub, err, out)
		}
		var doc helloCheckDoc
		if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
			t.Fatalf("parse verify output: %v", err)
		}
		if !doc.Verified || doc.CanonicalPayload != "v=1;serverId=cosmicprisons.com;plugin=1.4.2;flags=34" {
			t.Fatalf("unexpected verify result: %+v", doc)
		}
	}

	other := generateKey(t)
	if _, err := runApp(t, "", "hello", "verify", "--public-key", other.PublicSPKI, payload); err == nil {
		t.Fatalf("expected verification with the wrong key to fail")
	}
	out, err := runApp(t, "", "hello", "verify", "--policy", "log-only", "--public-key", other.PublicSPKI, payload)
	if err != nil {
		t.Fatalf("LOG_ONLY should trust: %v", err)
	}
	if !strings.Contains(out, "verified: false") {
		t.Fatalf("expected unverified trust:\n%s", out)
	}
}

func TestManifestSignAndVerify(t *testing.T) {
	key := generateKey(t)
	dir := t.TempDir()
	artifact := filepath.Join(dir, "companion.jar")
	if err := os.WriteFile(artifact, []byte("artifact bytes"), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	manifest := filepath.Join(dir, attestation.ManifestFile)

	if _, err := runApp(t, "", "manifest", "sign",
		"--key", key.PrivateKey,
		"--artifact", artifact,
		"--mod-version", "0.3.1",
		"--build-id", "ci-42",
		"--out", manifest,
	); err != nil {
		t.Fatalf("sign manifest: %v", err)
	}

	out, err := runApp(t, "", "manifest", "verify",
		"--dir", dir,
		"--artifact", artifact,
		"--mod-version", "0.3.1",
		"--public-key", key.PublicSPKI,
	)
	if err != nil {
		t.Fatalf("verify manifest: %v\n%s", err, out)
	}
	var doc manifestCheckDoc
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("parse verify output: %v", err)
	}
	if !doc.Signed || doc.BuildID != "ci-42" || doc.Outcome != attestation.OutcomeSigned {
		t.Fatalf("unexpected manifest result: %+v", doc)
	}

	if err := os.WriteFile(artifact, []byte("tampered"), 0o600); err != nil {
		t.Fatalf("tamper artifact: %v", err)
	}
	out, err = runApp(t, "", "manifest", "verify",
		"--dir", dir,
		"--artifact", artifact,
		"--mod-version", "0.3.1",
		"--public-key", key.PublicSPKI,
	)
	if err == nil {
		t.Fatalf("expected tampered artifact to fail")
	}
	if !strings.Contains(out, "outcome: "+attestation.OutcomeArtifactFailed) {
		t.Fatalf("expected artifact failure outcome:\n%s", out)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companion.toml")
	if _, err := runApp(t, "", "config", "init", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := runApp(t, "", "config", "init", path); err == nil {
		t.Fatalf("expected init without --force to refuse an existing file")
	}
	if _, err := runApp(t, "", "config", "validate", path); err != nil {
		t.Fatalf("validate template: %v", err)
	}

	if err := os.WriteFile(path, []byte("server_signature_policy = \"sometimes\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := runApp(t, "", "config", "validate", path); err == nil {
		t.Fatalf("expected invalid policy to fail validation")
	}
}

func TestParseOverlay(t *testing.T) {
	o, err := parseOverlay("40:2:1,5M")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.Slot != 40 || o.OverlayType != 2 || o.DisplayText != "1,5M" {
		t.Fatalf("unexpected overlay: %+v", o)
	}
	for _, bad := range []string{"1:2", "x:1:a", "1:y:a"} {
		if _, err := parseOverlay(bad); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}
