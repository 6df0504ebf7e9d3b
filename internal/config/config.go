package config

type Config struct {
	Backend BackendConfig
	Query   QueryConfig
	Cache   CacheConfig
	Log     LogConfig
}

type BackendConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

type QueryConfig struct {
	TopK int
}

type CacheConfig struct {
	DataDir       string
	PersistChunks bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:8000",
			TimeoutSeconds: 30,
		},
		Query: QueryConfig{
			TopK: 5,
		},
		Cache: CacheConfig{
			DataDir:       defaultDataDir(),
			PersistChunks: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/docq/config.json and applies DOCQ_* environment
// variable overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
