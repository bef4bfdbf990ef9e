package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

// CipherSuites is the fixed cipher list offered and accepted on every
// connection.
var CipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
}

// VerifyMode selects client-side certificate verification.
type VerifyMode int

const (
	// VerifyPeer checks the server chain against the supplied CA. Used by
	// workers dialing the coordinator.
	VerifyPeer VerifyMode = iota
	// VerifyNone skips verification. Used when dialing listeners opened by
	// ephemeral workers, which hold no certificate of their own.
	VerifyNone
)

func baseConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
		CipherSuites: CipherSuites,
	}
}

// ServerTLSConfig builds a listening-side config from PEM certificate chain
// and key material.
func ServerTLSConfig(certPEM, keyPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load server key pair: %w", err)
	}
	cfg := baseConfig()
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

// ClientTLSConfig builds a dialing-side config. With VerifyPeer the server
// chain must lead to caPEM; the host name is not checked because workers
// reach the coordinator by bare address.
func ClientTLSConfig(caPEM []byte, mode VerifyMode) (*tls.Config, error) {
	cfg := baseConfig()
	cfg.InsecureSkipVerify = true //nolint:gosec // chain verified below; VerifyNone is intentional
	if mode == VerifyNone {
		return cfg, nil
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("no CA certificates found in PEM")
	}
	cfg.VerifyPeerCertificate = func(raw [][]byte, _ [][]*x509.Certificate) error {
		if len(raw) == 0 {
			return errors.New("server presented no certificate")
		}
		certs := make([]*x509.Certificate, len(raw))
		for i, r := range raw {
			c, err := x509.ParseCertificate(r)
			if err != nil {
				return fmt.Errorf("parse server certificate: %w", err)
			}
			certs[i] = c
		}
		inter := x509.NewCertPool()
		for _, c := range certs[1:] {
			inter.AddCert(c)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: inter,
		})
		return err
	}
	return cfg, nil
}

// LoadServerTLS reads certificate chain and key files.
func LoadServerTLS(certFile, keyFile string) (*tls.Config, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read server cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read server key: %w", err)
	}
	return ServerTLSConfig(certPEM, keyPEM)
}

// PEM kinds accepted by FormatPEM.
const (
	PEMCertificate = "CERTIFICATE"
	PEMPrivateKey  = "PRIVATE KEY"
	PEMRSAKey      = "RSA PRIVATE KEY"
)

// FormatPEM re-armors a base64 body carried without its BEGIN/END lines, as
// certificates travel inside the launch payload. Already armored input is
// returned unchanged.
func FormatPEM(body, kind string) string {
	if strings.Contains(body, "-----BEGIN ") {
		return body
	}
	body = strings.Join(strings.Fields(body), "")

	var b strings.Builder
	b.WriteString("-----BEGIN " + kind + "-----\n")
	for len(body) > 64 {
		b.WriteString(body[:64])
		b.WriteByte('\n')
		body = body[64:]
	}
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString("-----END " + kind + "-----\n")
	return b.String()
}

// StripPEM removes armor lines and whitespace, producing the single-line
// form carried in the launch payload.
func StripPEM(pem string) string {
	var b strings.Builder
	for _, line := range strings.Split(pem, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}
