package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// config holds the CLI's optional defaults, loaded from a YAML file. Every
// field has a usable zero value, so running without a config file, or
// with an empty one, leaves the CLI fully functional with its built-in
// defaults. A config path that cannot be read is an error.
type config struct {
	BufferSizeMB   int    `yaml:"buffer_size_mb"`
	OverlapMB      int    `yaml:"overlap_mb"`
	DefaultOUIPath string `yaml:"default_oui_path"`
	DefaultMD5DBDir string `yaml:"default_md5db_dir"`
}

const defaultBufferSizeMB = 10

func defaultConfig() config {
	return config{BufferSizeMB: defaultBufferSizeMB}
}

// loadConfig reads path as YAML, falling back to defaultConfig() for any
// field the file doesn't set. An empty path is not an error: it simply
// means "use the defaults".
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.BufferSizeMB <= 0 {
		cfg.BufferSizeMB = defaultBufferSizeMB
	}
	return cfg, nil
}

// extractConfigFlag pulls a "-config PATH"/"--config PATH" (or
// "-config=PATH") pair out of args, wherever it appears, returning the remaining arguments and
// the config path (empty if none was given). It must run before any
// subcommand's flag.FlagSet sees the arguments, since "-config" isn't
// declared on every subcommand's flag set.
func extractConfigFlag(args []string) ([]string, string) {
	var out []string
	var path string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				path = args[i+1]
				i++
			}
		case len(a) > 9 && a[:9] == "--config=":
			path = a[9:]
		case len(a) > 8 && a[:8] == "-config=":
			path = a[8:]
		default:
			out = append(out, a)
		}
	}
	return out, path
}
