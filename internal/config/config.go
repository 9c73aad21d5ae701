// Package config parses the project-level eztex.zon file (spec.md
// §4.13). There is no ecosystem library for Zig's ZON object-literal
// syntax (see DESIGN.md for why this is hand-rolled rather than
// dependency-backed), so parsing follows the teacher's own small
// ad hoc text-format parsers (chktex/texcount output): split into
// records, trim, match a field name, skip anything unrecognized.
package config

import (
	"bufio"
	"strconv"
	"strings"
)

// Config is the resolved set of project options. Zero values mean
// "unset"; CLI flags take precedence over whatever is parsed here.
type Config struct {
	Entry              string
	Output             string
	Format             string
	Synctex            bool
	Deterministic      bool
	KeepIntermediates  bool
	BundleURL          string
	BundleIndex        string
}

// fieldSetters maps ZON field paths to setter closures.
var fieldSetters = map[string]func(*Config, string){
	"entry":              func(c *Config, v string) { c.Entry = v },
	"output":             func(c *Config, v string) { c.Output = v },
	"format":             func(c *Config, v string) { c.Format = v },
	"synctex":            func(c *Config, v string) { c.Synctex = parseBool(v) },
	"deterministic":      func(c *Config, v string) { c.Deterministic = parseBool(v) },
	"keep_intermediates": func(c *Config, v string) { c.KeepIntermediates = parseBool(v) },
	"bundle.url":         func(c *Config, v string) { c.BundleURL = v },
	"bundle.index":       func(c *Config, v string) { c.BundleIndex = v },
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Parse reads a ZON-like record literal of the shape:
//
//	.{
//	    .entry = "main.tex",
//	    .synctex = true,
//	    .bundle = .{
//	        .url = "https://example.com/bundle",
//	    },
//	}
//
// Any parse error is swallowed per spec.md §7 ("Config parse error:
// silently ignored, treated as absent"); Parse never returns an error,
// it returns the best-effort partial Config (possibly zero-valued).
func Parse(text string) Config {
	var cfg Config
	scanner := bufio.NewScanner(strings.NewReader(text))

	var prefix string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimSuffix(line, ",")
		if line == "" || line == ".{" {
			continue
		}

		if strings.HasSuffix(line, "= .{") {
			name := fieldName(line[:len(line)-len("= .{")])
			prefix = name + "."
			continue
		}
		if line == "}," || line == "}" {
			prefix = ""
			continue
		}

		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		name := prefix + fieldName(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		value = unquote(value)

		if setter, ok := fieldSetters[name]; ok {
			setter(&cfg, value)
		}
	}
	return cfg
}

func fieldName(raw string) string {
	raw = strings.TrimSpace(raw)
	return strings.TrimPrefix(raw, ".")
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// Merge applies cfg's fields as defaults wherever the corresponding
// field of override is unset (the zero value), giving "CLI flags
// dominate, config fills the rest" semantics from spec.md §4.13.
func Merge(override, cfg Config) Config {
	result := override
	if result.Entry == "" {
		result.Entry = cfg.Entry
	}
	if result.Output == "" {
		result.Output = cfg.Output
	}
	if result.Format == "" {
		result.Format = cfg.Format
	}
	if !result.Synctex {
		result.Synctex = cfg.Synctex
	}
	if !result.Deterministic {
		result.Deterministic = cfg.Deterministic
	}
	if !result.KeepIntermediates {
		result.KeepIntermediates = cfg.KeepIntermediates
	}
	if result.BundleURL == "" {
		result.BundleURL = cfg.BundleURL
	}
	if result.BundleIndex == "" {
		result.BundleIndex = cfg.BundleIndex
	}
	return result
}

// StarterContent is written by `eztex init`.
const StarterContent = ".{\n    .entry = \"main.tex\",\n}\n"
