package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: GetDefaultDataDir(),
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		WorkerURL:          "",
		FirebaseConfigPath: "",
	}
}

func GenerateSystemConfigTemplate() string {
	return `# gemchat System Configuration
# Location: ~/.config/gemchat/settings.toml
# This file uses TOML format: https://toml.io

# Directory where history identity and user config are stored
data_directory = "~/.local/share/gemchat"
`
}

func GenerateUserConfigTemplate() string {
	return `# gemchat User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

# Cloudflare Worker endpoint that proxies the generation backend
# Example: "https://your-worker-name.your-account.workers.dev"
worker_url = ""

# Path to the Firebase web app config JSON (download from the Firebase
# console, or see the in-app documentation for a sample).
# Defaults to <data_directory>/firebase.json when empty.
firebase_config_path = ""
`
}
