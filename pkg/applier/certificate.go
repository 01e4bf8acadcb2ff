package applier

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"path"
	"time"

	"github.com/openfroyo/pabawi/pkg/engine"
)

const (
	certificateMode fs.FileMode = 0o644
	privateKeyMode  fs.FileMode = 0o600
)

// GenerateSelfSignedCertificate writes a key pair and a self-signed
// certificate. Existing material is never replaced, even when expired.
func (a *Applier) GenerateSelfSignedCertificate(ctx context.Context, spec engine.CertificateSpec) (engine.Outcome, error) {
	out, err := a.generateCertificate(ctx, spec)
	return out, classify("generate certificate", engine.ResourceID(engine.ResourceKindCertificate, spec.CertPath), err)
}

func (a *Applier) generateCertificate(ctx context.Context, spec engine.CertificateSpec) (engine.Outcome, error) {
	certExists, err := a.exists(ctx, spec.CertPath)
	if err != nil {
		return engine.Outcome{}, err
	}
	keyExists, err := a.exists(ctx, spec.KeyPath)
	if err != nil {
		return engine.Outcome{}, err
	}
	if certExists && keyExists {
		return engine.Unchanged(), nil
	}

	certPEM, keyPEM, err := SelfSignedCertificate(spec.CommonName, spec.ValidDays, time.Now())
	if err != nil {
		return engine.Outcome{}, err
	}

	for _, dir := range []string{path.Dir(spec.KeyPath), path.Dir(spec.CertPath)} {
		if err := a.host.MkdirAll(ctx, dir, defaultDirMode); err != nil {
			return engine.Outcome{}, err
		}
	}
	if err := a.host.WriteFile(ctx, spec.KeyPath, keyPEM, privateKeyMode); err != nil {
		return engine.Outcome{}, err
	}
	if err := a.host.WriteFile(ctx, spec.CertPath, certPEM, certificateMode); err != nil {
		return engine.Outcome{}, err
	}

	a.logger.Info().
		Str("common_name", spec.CommonName).
		Str("cert_path", spec.CertPath).
		Int("valid_days", spec.ValidDays).
		Msg("Generated self-signed certificate")

	return engine.Changed("generated certificate for %s valid %d days", spec.CommonName, spec.ValidDays), nil
}

func (a *Applier) exists(ctx context.Context, p string) (bool, error) {
	_, err := a.host.Stat(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// SelfSignedCertificate returns a PEM certificate and a PKCS#8 PEM ECDSA
// P-256 key valid from now for validDays. The common name is also the
// only DNS subject alternative name.
func SelfSignedCertificate(commonName string, validDays int, now time.Time) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		DNSNames:              []string{commonName},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.AddDate(0, 0, validDays),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}
