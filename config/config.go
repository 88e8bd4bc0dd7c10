package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type UserConfig struct {
	WorkerURL          string `toml:"worker_url"`
	FirebaseConfigPath string `toml:"firebase_config_path,omitempty"`
}

// Config is the fully resolved configuration handed to the rest of the
// application. It is built once by Load and threaded explicitly through
// constructors; nothing reads settings ambiently.
type Config struct {
	DataDirectory      string
	WorkerURL          string
	FirebaseConfigPath string

	// Firebase is non-nil only when the firebase config file parsed and
	// validated. FirebaseIssue carries the validation error text for the
	// settings UI; an invalid file never yields a partial Firebase value.
	Firebase      *FirebaseConfig
	FirebaseIssue string
}

var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// StreamReady reports whether prompts can be sent anywhere.
func (c *Config) StreamReady() bool {
	return c.WorkerURL != ""
}

// StoreReady reports whether the history store connection is configured.
func (c *Config) StoreReady() bool {
	return c.Firebase != nil
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("GEMCHAT_WORKER_URL"); url != "" {
		c.WorkerURL = url
	}
	if dataDir := os.Getenv("GEMCHAT_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if fbPath := os.Getenv("GEMCHAT_FIREBASE_CONFIG"); fbPath != "" {
		c.FirebaseConfigPath = fbPath
	}
}

func CheckDebug() bool {
	debug := os.Getenv("GEMCHAT_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	logPath := filepath.Join(dataDir, "debug.log")

	// Create debug log with secure permissions (0600 - may contain prompt text)
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (GEMCHAT_DEBUG=%s) ===", os.Getenv("GEMCHAT_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

func Load() (*Config, error) {
	cfg := &Config{
		DataDirectory: GetDefaultDataDir(),
	}

	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	cfg.DataDirectory = systemCfg.DataDirectory
	cfg.applyEnvOverrides()

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.WorkerURL = userCfg.WorkerURL
	cfg.FirebaseConfigPath = userCfg.FirebaseConfigPath
	cfg.applyEnvOverrides()

	if cfg.FirebaseConfigPath == "" {
		cfg.FirebaseConfigPath = filepath.Join(dataDir, "firebase.json")
	}

	cfg.ReloadFirebase()

	return cfg, nil
}

// ReloadFirebase re-reads and re-validates the firebase config file.
// On any failure the firebase configuration is cleared entirely; it is
// never partially applied.
func (c *Config) ReloadFirebase() {
	c.Firebase = nil
	c.FirebaseIssue = ""

	path := ExpandPath(c.FirebaseConfigPath)
	if !FileExists(path) {
		c.FirebaseIssue = fmt.Sprintf("firebase config not found at %s", path)
		return
	}

	fb, err := LoadFirebaseConfig(path)
	if err != nil {
		c.FirebaseIssue = err.Error()
		if DebugLog != nil {
			DebugLog.Printf("firebase config rejected: %v", err)
		}
		return
	}
	c.Firebase = fb
}
