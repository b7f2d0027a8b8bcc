// Package domain holds the JSON record types the datastore persists.
package domain

// Project is the root resource. API keys are opaque base64-urlsafe
// 128-bit tokens minted at creation.
type Project struct {
	ProjectID     string `json:"project_id"`
	DisplayName   string `json:"display_name,omitempty"`
	APIKey        string `json:"api_key"`
	CreatedMicros int64  `json:"created_micros"`
}
