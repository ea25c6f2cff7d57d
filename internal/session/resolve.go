package session

import "github.com/matheus3301/chatsync/internal/config"

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(GlobalConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// SetDefault validates name and records it as default_session in config.toml.
func SetDefault(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return config.SetDefaultSession(GlobalConfigPath(), name)
}

// Load validates name and reads its session.toml.
func Load(name string) (*config.Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return config.LoadSession(ConfigPath(name))
}
