package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FirebaseConfig mirrors the downloadable Firebase web app config JSON.
// Only apiKey and projectId are required; databaseURL is synthesized
// from the project id when absent, which is the common case for configs
// generated after Realtime Database moved to named instances.
type FirebaseConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain,omitempty"`
	DatabaseURL       string `json:"databaseURL,omitempty"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket,omitempty"`
	MessagingSenderID string `json:"messagingSenderId,omitempty"`
	AppID             string `json:"appId,omitempty"`
}

// ParseFirebaseConfig parses and validates a firebase config JSON blob.
// A malformed or incomplete config is rejected whole.
func ParseFirebaseConfig(data []byte) (*FirebaseConfig, error) {
	var fb FirebaseConfig
	if err := json.Unmarshal(data, &fb); err != nil {
		return nil, fmt.Errorf("firebase config is not valid JSON: %w", err)
	}

	if fb.APIKey == "" || fb.ProjectID == "" {
		return nil, fmt.Errorf("firebase config is missing required fields 'apiKey' or 'projectId'")
	}

	if fb.DatabaseURL == "" {
		fb.DatabaseURL = fmt.Sprintf("https://%s-default-rtdb.firebaseio.com", fb.ProjectID)
	}
	fb.DatabaseURL = strings.TrimRight(fb.DatabaseURL, "/")

	return &fb, nil
}

// LoadFirebaseConfig reads and validates the firebase config file at path.
func LoadFirebaseConfig(path string) (*FirebaseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read firebase config: %w", err)
	}
	return ParseFirebaseConfig(data)
}

// SampleFirebaseConfig is the template offered by the settings and
// documentation views, matching the file the Firebase console generates.
func SampleFirebaseConfig() string {
	return `{
  "apiKey": "AIzaSyXXXXXXXXXXXXXXXXXXX",
  "authDomain": "your-project-id.firebaseapp.com",
  "databaseURL": "https://your-project-id-default-rtdb.firebaseio.com",
  "projectId": "your-project-id",
  "storageBucket": "your-project-id.appspot.com",
  "messagingSenderId": "123456789012",
  "appId": "1:123456789012:web:xxxxxxxxxxxxxxxxx"
}
`
}
