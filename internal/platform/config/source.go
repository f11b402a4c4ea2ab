package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// source resolves keys from an explicit map, then the process environment, then the dotenv file.
type source struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func newSource(o loaderOptions) (source, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return source{}, err
	}
	return source{explicit: o.envMap, system: o.useSystemEnv, dotenv: dotenv}, nil
}

func (s source) get(key string) string {
	if v, ok := s.explicit[key]; ok {
		return strings.TrimSpace(v)
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(s.dotenv[key])
}

// flatten merges every layer with the same precedence as get.
func (s source) flatten() map[string]string {
	out := maps.Clone(s.dotenv)
	if out == nil {
		out = make(map[string]string)
	}
	if s.system {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				out[k] = v
			}
		}
	}
	maps.Copy(out, s.explicit)
	return out
}

// parsed reads key through parse, falling back on blanks and parse errors.
func parsed[T any](s source, key string, fallback T, parse func(string) (T, error)) T {
	raw := s.get(key)
	if raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

func (s source) str(key, fallback string) string {
	return parsed(s, key, fallback, func(v string) (string, error) { return v, nil })
}

func (s source) lower(key, fallback string) string { return strings.ToLower(s.str(key, fallback)) }

func (s source) integer(key string, fallback int) int { return parsed(s, key, fallback, strconv.Atoi) }

func (s source) duration(key string, fallback time.Duration) time.Duration {
	return parsed(s, key, fallback, time.ParseDuration)
}

func (s source) float(key string, fallback float64) float64 {
	return parsed(s, key, fallback, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func (s source) flag(key string, fallback bool) bool {
	return parsed(s, key, fallback, func(v string) (bool, error) {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	})
}

// list splits a comma separated value, dropping empty items.
func (s source) list(key string) []string {
	var out []string
	for item := range strings.SplitSeq(s.get(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// pairs parses "env=value, other=value" with lower-cased names.
func (s source) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, item := range s.list(key) {
		name, value, ok := strings.Cut(item, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// readDotEnv parses the dotenv file without exporting it. A missing file yields no values.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}
