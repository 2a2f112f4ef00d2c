// Package config provides JSON-based configuration for ragproxy.
// Configuration is loaded with a layered precedence: defaults → JSON
// files → env vars. Environment variables always win, so existing
// workflows are unaffected.
//
// Three files live side by side under the resolved config directory:
//
//   - endpoints.json  — ordered list of named backend launch configs.
//   - app_config.json — {"llama-server-path", "use-llama-server-python"}.
//   - rag_config.json — retrieval/proxy tuning knobs.
//
// Config directory search order:
//  1. --config CLI flag (explicit directory)
//  2. RAGPROXY_CONFIG_DIR environment variable
//  3. $XDG_CONFIG_HOME/ragproxy, or os.UserConfigDir()/ragproxy
//
// Generalized from the teacher's internal/config (YAML+env, single
// file) to JSON+env, three files — the same "env wins over file" rule,
// adapted to spec §6's JSON config format and
// original_source/llm_kickstart.py's load_config behavior of writing
// defaults on first run rather than leaving config silently absent.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Endpoint is one named backend launch configuration (endpoints.json).
type Endpoint struct {
	Name  string            `json:"name"`
	Flags map[string]string `json:"-"`
}

// MarshalJSON flattens Flags alongside name into a single object, matching
// the original's flat per-endpoint JSON object shape.
func (e Endpoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(e.Flags)+1)
	for k, v := range e.Flags {
		out[k] = v
	}
	out["name"] = e.Name
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat object, pulling out "name" and keeping every
// other key in Flags.
func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: invalid endpoint object: %w", err)
	}
	e.Flags = make(map[string]string, len(raw))
	for k, v := range raw {
		if k == "name" {
			e.Name = v
			continue
		}
		e.Flags[k] = v
	}
	return nil
}

// AppConfig is app_config.json: where the backend executable lives and
// whether to use the Python server bindings instead of the binary.
// use-llama-server-python is stored as the string "True"/"False" in the
// original format (Python's str(bool)); UnmarshalJSON below parses it
// with strconv.ParseBool, which accepts "True"/"False", "true"/"false" and
// "TRUE"/"FALSE" (plus "1"/"0", "t"/"f"), rather than relying on
// encoding/json's strict ",string" tag, which only accepts lowercase.
type AppConfig struct {
	LlamaServerPath      string
	UseLlamaServerPython bool
}

func (c AppConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"llama-server-path":       c.LlamaServerPath,
		"use-llama-server-python": strconv.FormatBool(c.UseLlamaServerPython),
	})
}

func (c *AppConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		LlamaServerPath      string `json:"llama-server-path"`
		UseLlamaServerPython string `json:"use-llama-server-python"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: invalid app config: %w", err)
	}
	c.LlamaServerPath = raw.LlamaServerPath
	if raw.UseLlamaServerPython != "" {
		b, err := strconv.ParseBool(raw.UseLlamaServerPython)
		if err != nil {
			return fmt.Errorf("config: invalid use-llama-server-python value %q: %w", raw.UseLlamaServerPython, err)
		}
		c.UseLlamaServerPython = b
	}
	return nil
}

// RAGConfig is rag_config.json: retrieval and proxy tuning knobs.
// enable-query-optimization follows the same string-bool convention as
// AppConfig.UseLlamaServerPython.
type RAGConfig struct {
	DocumentBaseDir         string
	WebsiteCrawlDepth       int
	ChunkCount              int
	EnableQueryOptimization bool
	ProxyServePort          int
	LLMServerPort           int
}

func (c RAGConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"rag-document-base-dir":      c.DocumentBaseDir,
		"website-crawl-depth":        c.WebsiteCrawlDepth,
		"rag-chunk-count":            c.ChunkCount,
		"enable-query-optimization":  strconv.FormatBool(c.EnableQueryOptimization),
		"rag-proxy-serve-port":       c.ProxyServePort,
		"llm-server-port":            c.LLMServerPort,
	})
}

func (c *RAGConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		DocumentBaseDir         string `json:"rag-document-base-dir"`
		WebsiteCrawlDepth       int    `json:"website-crawl-depth"`
		ChunkCount              int    `json:"rag-chunk-count"`
		EnableQueryOptimization string `json:"enable-query-optimization"`
		ProxyServePort          int    `json:"rag-proxy-serve-port"`
		LLMServerPort           int    `json:"llm-server-port"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: invalid rag config: %w", err)
	}
	c.DocumentBaseDir = raw.DocumentBaseDir
	c.WebsiteCrawlDepth = raw.WebsiteCrawlDepth
	c.ChunkCount = raw.ChunkCount
	c.ProxyServePort = raw.ProxyServePort
	c.LLMServerPort = raw.LLMServerPort
	if raw.EnableQueryOptimization != "" {
		b, err := strconv.ParseBool(raw.EnableQueryOptimization)
		if err != nil {
			return fmt.Errorf("config: invalid enable-query-optimization value %q: %w", raw.EnableQueryOptimization, err)
		}
		c.EnableQueryOptimization = b
	}
	return nil
}

// defaultAppConfig and defaultRAGConfig match
// original_source/llm_kickstart.py / rag_server.py's first-run defaults.
func defaultAppConfig() AppConfig {
	return AppConfig{
		LlamaServerPath:      "",
		UseLlamaServerPython: false,
	}
}

func defaultRAGConfig() RAGConfig {
	return RAGConfig{
		DocumentBaseDir:         "",
		WebsiteCrawlDepth:       1,
		ChunkCount:              4,
		EnableQueryOptimization: false,
		ProxyServePort:          8008,
		LLMServerPort:           8081,
	}
}

// Config is the fully-resolved, env-overridden configuration set.
type Config struct {
	Endpoints []Endpoint
	App       AppConfig
	RAG       RAGConfig

	// Dir is the directory these files were (or will be) loaded from.
	Dir string
}

// ResolveDir returns the config directory per the search order documented
// in the package doc comment.
func ResolveDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if envDir := os.Getenv("RAGPROXY_CONFIG_DIR"); envDir != "" {
		return envDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: could not determine user config directory: %w", err)
	}
	return filepath.Join(base, "ragproxy"), nil
}

// Load reads (or creates, with defaults) the three config files under
// dir, then applies environment variable overrides and returns the
// merged Config.
func Load(dir string, log *slog.Logger) (*Config, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: could not create %s: %w", dir, err)
	}

	endpoints, err := loadOrCreateEndpoints(filepath.Join(dir, "endpoints.json"))
	if err != nil {
		return nil, err
	}

	app, err := loadOrCreateJSON(filepath.Join(dir, "app_config.json"), defaultAppConfig())
	if err != nil {
		return nil, err
	}

	rag, err := loadOrCreateJSON(filepath.Join(dir, "rag_config.json"), defaultRAGConfig())
	if err != nil {
		return nil, err
	}

	cfg := &Config{Endpoints: endpoints, App: app, RAG: rag, Dir: dir}
	applyEnvOverrides(cfg)

	log.Info("config: loaded",
		slog.String("dir", dir),
		slog.Int("endpoints", len(endpoints)),
	)

	return cfg, nil
}

func loadOrCreateEndpoints(path string) ([]Endpoint, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		defaults := []Endpoint{{Name: "Local_LLM_Model", Flags: map[string]string{
			"model": "llm_model.gguf",
			"port":  "8081",
		}}}
		if err := writeJSON(path, defaults); err != nil {
			return nil, err
		}
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var endpoints []Endpoint
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return endpoints, nil
}

func loadOrCreateJSON[T any](path string, defaults T) (T, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeJSON(path, defaults); err != nil {
			return defaults, err
		}
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("config: read %s: %w", path, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return defaults, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return v, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// envOverride applies a RAGPROXY_-prefixed environment variable to a
// string field if the variable is set, matching the teacher's "env
// always wins" rule.
func envOverride(envKey string, target *string) {
	if v := os.Getenv(envKey); v != "" {
		*target = v
	}
}

func envOverrideInt(envKey string, target *int) {
	if v := os.Getenv(envKey); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func envOverrideBool(envKey string, target *bool) {
	if v := os.Getenv(envKey); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	envOverride("RAGPROXY_LLAMA_SERVER_PATH", &cfg.App.LlamaServerPath)
	envOverrideBool("RAGPROXY_USE_LLAMA_SERVER_PYTHON", &cfg.App.UseLlamaServerPython)

	envOverride("RAGPROXY_DOCUMENT_BASE_DIR", &cfg.RAG.DocumentBaseDir)
	envOverrideInt("RAGPROXY_WEBSITE_CRAWL_DEPTH", &cfg.RAG.WebsiteCrawlDepth)
	envOverrideInt("RAGPROXY_CHUNK_COUNT", &cfg.RAG.ChunkCount)
	envOverrideBool("RAGPROXY_ENABLE_QUERY_OPTIMIZATION", &cfg.RAG.EnableQueryOptimization)
	envOverrideInt("RAGPROXY_SERVE_PORT", &cfg.RAG.ProxyServePort)
	envOverrideInt("RAGPROXY_LLM_SERVER_PORT", &cfg.RAG.LLMServerPort)
}
