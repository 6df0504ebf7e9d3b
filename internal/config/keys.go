package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "backend.base_url", typ: kString, env: "DOCQ_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.timeout_seconds", typ: kInt, env: "DOCQ_BACKEND_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Backend.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Backend.TimeoutSeconds },
	},
	{
		key: "query.top_k", typ: kInt, env: "DOCQ_QUERY_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Query.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Query.TopK },
	},
	{
		key: "cache.data_dir", typ: kString, env: "DOCQ_CACHE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Cache.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.DataDir },
	},
	{
		key: "cache.persist_chunks", typ: kBool, env: "DOCQ_CACHE_PERSIST_CHUNKS",
		apply:   func(cfg *Config, v any) { cfg.Cache.PersistChunks = v.(bool) },
		extract: func(cfg Config) any { return cfg.Cache.PersistChunks },
	},
	{
		key: "log.level", typ: kString, env: "DOCQ_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
