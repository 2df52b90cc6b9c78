package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// Included files let secrets live apart from the main config, e.g.
//
//	includes: ["secrets.d/*.yaml"]
//
// Scalars and sections in a later file replace earlier ones. Provider lists
// are overlaid by provider name instead, so a file holding only
// `{name: openai, api_key: ...}` adds the key to the openai entry declared
// elsewhere.

// processIncludes overlays the files named by cfg.Includes onto cfg. baseDir
// is the directory of the file holding the includes; visited holds absolute
// paths already read.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	if visited == nil {
		visited = make(map[string]bool)
	}

	includes := cfg.Includes
	cfg.Includes = nil
	for _, pattern := range includes {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			visited[abs] = true

			if err := includeFile(cfg, abs, visited, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveIncludePaths expands pattern relative to baseDir. A literal path is
// returned even when missing so the read reports it; a glob may match nothing.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	return matches, nil
}

// includeFile overlays one file and then its own includes.
func includeFile(cfg *Config, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	if err := overlayFile(cfg, data); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	if len(cfg.Includes) > 0 {
		return processIncludes(cfg, filepath.Dir(path), visited, depth)
	}
	return nil
}

// overlayFile decodes data onto cfg, merging llm.providers by name.
func overlayFile(cfg *Config, data []byte) error {
	before := cfg.LLM.Providers
	cfg.LLM.Providers = nil
	cfg.Includes = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg.LLM.Providers = before
		return err
	}
	cfg.LLM.Providers = mergeProviders(before, cfg.LLM.Providers)
	return nil
}

// mergeProviders overlays the set fields of each entry in top onto the base
// entry with the same name. Entries new to base are appended.
func mergeProviders(base, top []ProviderConfig) []ProviderConfig {
	if top == nil {
		return base
	}
	out := make([]ProviderConfig, len(base), len(base)+len(top))
	copy(out, base)

	for _, p := range top {
		i := indexProvider(out, p.Name)
		if i < 0 {
			out = append(out, p)
			continue
		}
		overlayProvider(&out[i], p)
	}
	return out
}

func indexProvider(ps []ProviderConfig, name string) int {
	for i, p := range ps {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func overlayProvider(dst *ProviderConfig, src ProviderConfig) {
	setString(&dst.Type, src.Type)
	setString(&dst.BaseURL, src.BaseURL)
	setString(&dst.APIKey, src.APIKey)
	setString(&dst.Model, src.Model)
	if src.ConnTimeout != 0 {
		dst.ConnTimeout = src.ConnTimeout
	}
	if src.RespTimeout != 0 {
		dst.RespTimeout = src.RespTimeout
	}
	if src.Pool != (PoolConfig{}) {
		dst.Pool = src.Pool
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
