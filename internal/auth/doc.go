// Package auth verifies ServerHello signatures against configured trusted
// keys.
//
// Verification itself is pure. Policy decides what a failed verification
// means: OFF trusts every hello, LOG_ONLY trusts it but reports the failure,
// ENFORCE rejects it.
package auth
