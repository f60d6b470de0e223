package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Render.Pdftoppm == "" {
		cfg.Render.Pdftoppm = "pdftoppm"
	}
	if cfg.Render.MaxScale == 0 {
		cfg.Render.MaxScale = 4.0
	}
	if cfg.AI.Default == "" {
		cfg.AI.Default = "openai"
	}
	if cfg.AI.OpenAI.Model == "" {
		cfg.AI.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.AI.Anthropic.Model == "" {
		cfg.AI.Anthropic.Model = "claude-3-5-haiku-latest"
	}
	if cfg.AI.Gemini.Model == "" {
		cfg.AI.Gemini.Model = "gemini-1.5-flash"
	}
	if cfg.Storage.HistoryPath == "" {
		cfg.Storage.HistoryPath = "/usr/local/var/margo/data/history.db"
	}
	if cfg.Storage.SessionsDir == "" {
		cfg.Storage.SessionsDir = "/usr/local/var/margo/sessions"
	}
}
