package transport

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// PinningMode selects what a SecurityPolicy compares against its pins.
type PinningMode int

const (
	// PinningNone relies on chain validation alone.
	PinningNone PinningMode = iota
	// PinningCertificate requires a presented certificate to equal a pinned one.
	PinningCertificate
	// PinningPublicKey requires a presented public key to equal a pinned one.
	PinningPublicKey
)

// String returns the mode name used in configuration.
func (m PinningMode) String() string {
	switch m {
	case PinningNone:
		return "none"
	case PinningCertificate:
		return "certificate"
	case PinningPublicKey:
		return "public_key"
	default:
		return fmt.Sprintf("pinning(%d)", int(m))
	}
}

// ParsePinningMode parses "none", "certificate" or "public_key".
func ParsePinningMode(s string) (PinningMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PinningNone, nil
	case "certificate", "cert":
		return PinningCertificate, nil
	case "public_key", "publickey", "key":
		return PinningPublicKey, nil
	default:
		return PinningNone, fmt.Errorf("unknown pinning mode %q", s)
	}
}

// SecurityPolicy decides whether a TLS server is trusted.
type SecurityPolicy struct {
	// Mode selects certificate pinning.
	Mode PinningMode

	// PinnedCertificates are DER-encoded certificates.
	PinnedCertificates [][]byte

	// AllowInvalidCertificates skips chain validation. Pins are still checked.
	AllowInvalidCertificates bool

	// ValidatesDomainName checks the leaf certificate against the server name.
	ValidatesDomainName bool
}

// DefaultSecurityPolicy validates the chain and the domain name without pinning.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{ValidatesDomainName: true}
}

// TLSConfig returns a copy of base whose verification follows the policy.
//
// Verification runs in VerifyConnection so that the pinning and domain-name
// switches apply uniformly. The standard verifier is disabled to avoid
// checking the chain twice.
func (p SecurityPolicy) TLSConfig(base *tls.Config) (*tls.Config, error) {
	if p.Mode != PinningNone && len(p.PinnedCertificates) == 0 {
		return nil, ErrNoPinnedCertificates
	}

	pins := make([]*x509.Certificate, 0, len(p.PinnedCertificates))
	for i, der := range p.PinnedCertificates {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parsing pinned certificate %d: %w", i, err)
		}
		pins = append(pins, cert)
	}

	cfg := base.Clone()
	roots := cfg.RootCAs
	cfg.InsecureSkipVerify = true //nolint:gosec // Verified in VerifyConnection
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return p.verify(cs, roots, pins)
	}
	return cfg, nil
}

func (p SecurityPolicy) verify(cs tls.ConnectionState, roots *x509.CertPool, pins []*x509.Certificate) error {
	if len(cs.PeerCertificates) == 0 {
		return fmt.Errorf("%w: no certificates presented", ErrCertificateInvalid)
	}
	leaf := cs.PeerCertificates[0]

	// Pins are matched against verified chains only. Without chain
	// validation only the leaf counts; anything else the server appended
	// is unauthenticated.
	candidates := []*x509.Certificate{leaf}
	if !p.AllowInvalidCertificates {
		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
		}
		for _, c := range cs.PeerCertificates[1:] {
			opts.Intermediates.AddCert(c)
		}
		if p.ValidatesDomainName {
			opts.DNSName = cs.ServerName
		}
		chains, err := leaf.Verify(opts)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
		}
		candidates = candidates[:0]
		for _, chain := range chains {
			candidates = append(candidates, chain...)
		}
	} else if p.ValidatesDomainName && cs.ServerName != "" {
		if err := leaf.VerifyHostname(cs.ServerName); err != nil {
			return fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
		}
	}

	var match func(a, b *x509.Certificate) bool
	switch p.Mode {
	case PinningCertificate:
		match = func(a, b *x509.Certificate) bool { return bytes.Equal(a.Raw, b.Raw) }
	case PinningPublicKey:
		match = func(a, b *x509.Certificate) bool {
			return bytes.Equal(a.RawSubjectPublicKeyInfo, b.RawSubjectPublicKeyInfo)
		}
	default:
		return nil
	}

	for _, c := range candidates {
		for _, pin := range pins {
			if match(c, pin) {
				return nil
			}
		}
	}
	return ErrPinMismatch
}

// LoadCertificates reads certificates from PEM or DER files and returns
// them DER-encoded, ready for SecurityPolicy.PinnedCertificates.
func LoadCertificates(paths ...string) ([][]byte, error) {
	var out [][]byte
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading certificate %s: %w", path, err)
		}
		ders, err := decodeCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("decoding certificate %s: %w", path, err)
		}
		out = append(out, ders...)
	}
	return out, nil
}

func decodeCertificates(data []byte) ([][]byte, error) {
	var ders [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			ders = append(ders, block.Bytes)
		}
	}
	if len(ders) > 0 {
		return ders, nil
	}
	// Not PEM: treat the whole file as one DER certificate.
	if _, err := x509.ParseCertificate(data); err != nil {
		return nil, err
	}
	return [][]byte{data}, nil
}

// LoadCertPool builds a root pool from a PEM bundle.
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
