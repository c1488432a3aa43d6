// Package tlspin implements certificate/public-key pinning verification
// during the TLS handshake (spec.md §4.11, C16). No teacher analogue
// exists — the Encore app never terminates TLS itself — so this is built
// directly on the standard crypto/tls.Config.VerifyPeerCertificate hook,
// the idiomatic extension point for custom chain validation.
package tlspin

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// Mode selects what gets hashed and compared against the configured pins.
type Mode int

const (
	// ModePublicKey hashes each certificate's SubjectPublicKeyInfo.
	ModePublicKey Mode = iota
	// ModeCertificate hashes each certificate's full DER encoding.
	ModeCertificate
)

// FailureAction controls what happens when no presented certificate
// matches a pin.
type FailureAction int

const (
	// ActionReject fails the handshake.
	ActionReject FailureAction = iota
	// ActionWarn accepts the connection anyway, for staged pin rollout.
	ActionWarn
)

// AllHosts, used as a sentinel PinnedHosts entry, pins every host the
// client connects to rather than a specific allowlist.
const AllHosts = "*"

// WarnFunc receives a non-fatal pin-mismatch notice when FailureAction is
// ActionWarn.
type WarnFunc func(host string, err error)

// SecurityPolicy is spec.md §4.11's SecurityPolicy record.
type SecurityPolicy struct {
	Mode          Mode
	PinnedHosts   map[string]bool
	PrimaryPins   [][]byte
	FallbackPins  [][]byte
	FailureAction FailureAction
	ValidateChain bool
	OnWarn        WarnFunc
}

// New validates and returns a SecurityPolicy. It panics if primaryPins is
// empty, per spec.md §4.11's construction invariant: a pinning policy with
// no primary pins can never accept any connection and is certainly a
// misconfiguration, not a valid "pin nothing" state (use no policy at all
// for that).
func New(mode Mode, pinnedHosts map[string]bool, primaryPins, fallbackPins [][]byte, action FailureAction, validateChain bool, onWarn WarnFunc) *SecurityPolicy {
	if len(primaryPins) == 0 {
		panic("tlspin: primary_pins must be non-empty")
	}
	return &SecurityPolicy{
		Mode:          mode,
		PinnedHosts:   pinnedHosts,
		PrimaryPins:   primaryPins,
		FallbackPins:  fallbackPins,
		FailureAction: action,
		ValidateChain: validateChain,
		OnWarn:        onWarn,
	}
}

// isPinned reports whether host is covered by this policy.
func (p *SecurityPolicy) isPinned(host string) bool {
	if p.PinnedHosts[AllHosts] {
		return true
	}
	return p.PinnedHosts[host]
}

func (p *SecurityPolicy) hash(cert *x509.Certificate) [32]byte {
	if p.Mode == ModePublicKey {
		return sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	}
	return sha256.Sum256(cert.Raw)
}

func (p *SecurityPolicy) matchesAnyPin(hash [32]byte) bool {
	for _, pin := range p.PrimaryPins {
		if len(pin) == 32 && [32]byte(pin) == hash {
			return true
		}
	}
	for _, pin := range p.FallbackPins {
		if len(pin) == 32 && [32]byte(pin) == hash {
			return true
		}
	}
	return false
}

// verify runs the per-handshake pin check for host (spec.md §4.11's
// per-handshake algorithm). It takes host as an extra parameter, so it is
// not itself a tls.Config.VerifyPeerCertificate hook; Verifier below binds
// host in a closure with the hook's signature.
func (p *SecurityPolicy) verify(host string, rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	if !p.isPinned(host) {
		return nil
	}

	if p.ValidateChain && len(verifiedChains) == 0 {
		return fmt.Errorf("tlspin: chain validation failed for host %q", host)
	}

	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("tlspin: parse presented certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	for _, cert := range certs {
		if p.matchesAnyPin(p.hash(cert)) {
			return nil
		}
	}

	err := fmt.Errorf("tlspin: no presented certificate matched a pin for host %q", host)
	switch p.FailureAction {
	case ActionWarn:
		if p.OnWarn != nil {
			p.OnWarn(host, err)
		}
		return nil
	default:
		return err
	}
}

// Verifier binds a SecurityPolicy to a specific host, producing the
// closure crypto/tls.Config.VerifyPeerCertificate actually expects.
func (p *SecurityPolicy) Verifier(host string) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
		return p.verify(host, rawCerts, verifiedChains)
	}
}

// ConfigForHost returns a *tls.Config wired to this policy's
// VerifyPeerCertificate hook. When ValidateChain is true, InsecureSkipVerify
// is left false so crypto/tls performs its normal chain validation first
// (aborting the handshake before the hook ever runs on failure, per
// spec.md §4.11); when false, InsecureSkipVerify is set so only pin
// matching gates the connection, with no system chain check at all.
func (p *SecurityPolicy) ConfigForHost(host string) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify:    !p.ValidateChain,
		VerifyPeerCertificate: p.Verifier(host),
	}
}
