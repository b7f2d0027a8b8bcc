// Package sdkconfig writes the JSON file game clients point their SDK
// at: where the service listens, how to trust it, and which project
// key to present.
package sdkconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
)

type connection struct {
	Address string `json:"address"`
	// SSLCertificate carries the server certificate as PEM lines;
	// empty means plaintext.
	SSLCertificate []string `json:"ssl_certificate,omitempty"`
}

type service struct {
	Connection connection `json:"connection"`
}

type clientConfig struct {
	Service   service `json:"service"`
	ProjectID string  `json:"project_id,omitempty"`
	APIKey    string  `json:"api_key,omitempty"`
}

// Write renders one client config to path. certPEM is the raw server
// certificate ("" for plaintext deployments).
func Write(path, address, certPEM, projectID, apiKey string) error {
	cfg := clientConfig{
		Service: service{
			Connection: connection{
				Address:        address,
				SSLCertificate: pemLines(certPEM),
			},
		},
		ProjectID: projectID,
		APIKey:    apiKey,
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return svcerr.Internal("encoding client config: %v", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return svcerr.Internal("creating client config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return svcerr.Internal("writing client config: %v", err)
	}
	return nil
}

// WriteFromCertFile reads the certificate from certPath when set.
func WriteFromCertFile(path, address, certPath, projectID, apiKey string) error {
	certPEM := ""
	if certPath != "" {
		data, err := os.ReadFile(certPath)
		if err != nil {
			return svcerr.Internal("reading certificate %q: %v", certPath, err)
		}
		certPEM = string(data)
	}
	return Write(path, address, certPEM, projectID, apiKey)
}

func pemLines(certPEM string) []string {
	certPEM = strings.TrimSpace(certPEM)
	if certPEM == "" {
		return nil
	}
	lines := strings.Split(certPEM, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}
