package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSelfSigned writes a throwaway certificate and key and returns their paths
func writeSelfSigned(t *testing.T) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "devops-assistant.test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}

	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("Failed to write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}
	return certPath, keyPath
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"", tls.VersionTLS12, false},
		{"1.2", tls.VersionTLS12, false},
		{"1.3", tls.VersionTLS13, false},
		{"1.0", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVersion(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseVersion(%q) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestServerTLSConfig(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t)

	cfg, err := ServerTLSConfig(TLSConfig{CertFile: certPath, KeyFile: keyPath, MinVersion: "1.3"})
	if err != nil {
		t.Fatalf("ServerTLSConfig failed: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected one certificate, got %d", len(cfg.Certificates))
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion = %x", cfg.MinVersion)
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Error("client certificates should not be required without a CA")
	}
}

func TestServerTLSConfigClientCA(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t)

	cfg, err := ServerTLSConfig(TLSConfig{CertFile: certPath, KeyFile: keyPath, ClientCAFile: certPath})
	if err != nil {
		t.Fatalf("ServerTLSConfig failed: %v", err)
	}
	if cfg.ClientCAs == nil || cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Error("client CA not applied")
	}
}

func TestServerTLSConfigErrors(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t)
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  TLSConfig
	}{
		{"missing key", TLSConfig{CertFile: certPath}},
		{"unreadable pair", TLSConfig{CertFile: garbage, KeyFile: keyPath}},
		{"bad version", TLSConfig{CertFile: certPath, KeyFile: keyPath, MinVersion: "1.1"}},
		{"missing ca", TLSConfig{CertFile: certPath, KeyFile: keyPath, ClientCAFile: "/nonexistent/ca.pem"}},
		{"bad ca", TLSConfig{CertFile: certPath, KeyFile: keyPath, ClientCAFile: garbage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ServerTLSConfig(tt.cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
