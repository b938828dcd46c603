package adapters

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

const tlsMinVersion = tls.VersionTLS12

// loadCertPool reads PEM encoded root certificates from path.
func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
