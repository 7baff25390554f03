package config

import (
	"fmt"
	"os"
)

// Template returns a commented starter config.
func Template() string {
	return companionTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(companionTemplate), 0o600)
}

const companionTemplate = `# Servers allowed to enable the companion channel. Compared case-insensitively.
allowed_server_ids = ["cosmicprisons.com"]

# OFF, LOG_ONLY or ENFORCE.
server_signature_policy = "LOG_ONLY"

# Accepted forms: base64 SPKI, ed25519:<base64>, ed448:<base64>, or an
# ssh-ed25519 authorized_keys line.
server_signature_public_keys = []

log_malformed_once_per_connection = true
enable_payload_codec_fallback = false

[feature_toggles]
inventory_item_overlays = true
entity_markers = true
`
