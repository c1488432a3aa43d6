package tlspin

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T) (*x509.Certificate, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return cert, der
}

func TestNewPanicsOnEmptyPrimaryPins(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for empty PrimaryPins")
		}
	}()
	New(ModePublicKey, map[string]bool{"api.example.com": true}, nil, nil, ActionReject, false, nil)
}

func TestVerifyAcceptsMatchingPublicKeyPin(t *testing.T) {
	cert, der := selfSignedCert(t)
	pin := sha256.Sum256(cert.RawSubjectPublicKeyInfo)

	p := New(ModePublicKey, map[string]bool{"api.example.com": true}, [][]byte{pin[:]}, nil, ActionReject, false, nil)
	if err := p.verify("api.example.com", [][]byte{der}, nil); err != nil {
		t.Errorf("unexpected rejection: %v", err)
	}
}

func TestVerifyRejectsNonMatchingPin(t *testing.T) {
	cert, der := selfSignedCert(t)
	_ = cert
	wrongPin := sha256.Sum256([]byte("not-the-right-key"))

	p := New(ModePublicKey, map[string]bool{"api.example.com": true}, [][]byte{wrongPin[:]}, nil, ActionReject, false, nil)
	if err := p.verify("api.example.com", [][]byte{der}, nil); err == nil {
		t.Error("expected rejection for non-matching pin")
	}
}

func TestVerifyUnpinnedHostAlwaysAccepts(t *testing.T) {
	_, der := selfSignedCert(t)
	p := New(ModePublicKey, map[string]bool{"api.example.com": true}, [][]byte{make([]byte, 32)}, nil, ActionReject, false, nil)
	if err := p.verify("other.example.com", [][]byte{der}, nil); err != nil {
		t.Errorf("unpinned host should always be accepted, got: %v", err)
	}
}

func TestVerifyFallbackPinAccepted(t *testing.T) {
	cert, der := selfSignedCert(t)
	pin := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	wrongPrimary := sha256.Sum256([]byte("wrong"))

	p := New(ModePublicKey, map[string]bool{"api.example.com": true}, [][]byte{wrongPrimary[:]}, [][]byte{pin[:]}, ActionReject, false, nil)
	if err := p.verify("api.example.com", [][]byte{der}, nil); err != nil {
		t.Errorf("expected fallback pin to be accepted: %v", err)
	}
}

func TestVerifyWarnActionDoesNotReject(t *testing.T) {
	_, der := selfSignedCert(t)
	var warnedHost string
	p := New(ModePublicKey, map[string]bool{"api.example.com": true}, [][]byte{make([]byte, 32)}, nil, ActionWarn, false, func(host string, err error) {
		warnedHost = host
	})
	if err := p.verify("api.example.com", [][]byte{der}, nil); err != nil {
		t.Errorf("ActionWarn should not reject, got: %v", err)
	}
	if warnedHost != "api.example.com" {
		t.Errorf("OnWarn not invoked with expected host, got %q", warnedHost)
	}
}

func TestVerifyCertificateModeHashesDER(t *testing.T) {
	cert, der := selfSignedCert(t)
	pin := sha256.Sum256(cert.Raw)
	p := New(ModeCertificate, map[string]bool{"api.example.com": true}, [][]byte{pin[:]}, nil, ActionReject, false, nil)
	if err := p.verify("api.example.com", [][]byte{der}, nil); err != nil {
		t.Errorf("unexpected rejection in certificate mode: %v", err)
	}
}

func TestVerifyAllHostsWildcard(t *testing.T) {
	cert, der := selfSignedCert(t)
	pin := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	p := New(ModePublicKey, map[string]bool{AllHosts: true}, [][]byte{pin[:]}, nil, ActionReject, false, nil)
	if err := p.verify("any-host.example.com", [][]byte{der}, nil); err != nil {
		t.Errorf("unexpected rejection under wildcard pinning: %v", err)
	}
}
