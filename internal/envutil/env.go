// Package envutil loads configuration into the process environment from a
// .env file or a YAML file. Values already present in the environment win.
package envutil

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		if key == "" {
			continue
		}
		setIfUnset(key, unquote(strings.TrimSpace(value)))
	}
	return scanner.Err()
}

// LoadYAML reads a flat YAML mapping such as
//
//	api_addr: ":8080"
//	session_ttl: 12h
//
// and exports each key upper-cased (API_ADDR, SESSION_TTL). A missing file is
// not an error.
func LoadYAML(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for key, value := range raw {
		name := strings.ToUpper(strings.TrimSpace(key))
		if name == "" {
			continue
		}
		switch v := value.(type) {
		case nil:
			continue
		case string:
			setIfUnset(name, v)
		case bool:
			setIfUnset(name, strconv.FormatBool(v))
		case int, int64, float64:
			setIfUnset(name, fmt.Sprint(v))
		default:
			return fmt.Errorf("parse %s: %s must be a scalar", path, key)
		}
	}
	return nil
}

// WriteDotEnv writes values sorted by key. Values with spaces or a '#' are
// double-quoted so LoadDotEnv reads them back unchanged.
func WriteDotEnv(path string, values map[string]string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(quoteValue(values[k]))
		b.WriteString("\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o600)
}

func quoteValue(value string) string {
	if strings.ContainsAny(value, " \t#") && !strings.Contains(value, `"`) {
		return `"` + value + `"`
	}
	return value
}

func setIfUnset(key, value string) {
	if _, exists := os.LookupEnv(key); !exists {
		_ = os.Setenv(key, value)
	}
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}
