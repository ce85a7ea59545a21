// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package argfilter implements the version-aware option filter (C1): given
// a requested Tailwind CSS CLI major version and a set of named options, it
// drops options the active version does not accept and classifies each
// option as v3-only, v4-only, or common. The v3->v4 flag changes recorded
// in internal/versioning.DefaultCompatibilityMatrix agree with the table
// below, which also covers options that matrix does not list; Filter
// consults only this table.
package argfilter

import (
	"sort"

	"github.com/corvidlabs/tailwindpool/pkg/config"
)

// Option names the CLI flags the pool understands. Unknown option names
// supplied by a caller are dropped by Filter regardless of version.
type Option string

const (
	OptionInputPath     Option = "input_path"
	OptionOutputPath    Option = "output_path"
	OptionContentGlobs  Option = "content_globs"
	OptionConfigPath    Option = "config_path"
	OptionPostcss       Option = "postcss"
	OptionPoll          Option = "poll"
	OptionNoAutoprefix  Option = "no_autoprefixer"
	OptionMinify        Option = "minify"
	OptionWatch         Option = "watch"
	OptionOptimize      Option = "optimize"
	OptionWorkingDir    Option = "working_dir"
	OptionSourceMap     Option = "source_map"
)

// Value is the value an option is bound to: a string, a bool, or a list of
// strings (content globs).
type Value any

// Options is a request's option set, keyed by logical option name.
type Options map[Option]Value

// support records which CLI major lines accept an option.
type support struct {
	v3 bool
	v4 bool
}

// table is the fixed option-support table from the external CLI contract.
var table = map[Option]support{
	OptionInputPath:    {v3: true, v4: true},
	OptionOutputPath:   {v3: true, v4: true},
	OptionContentGlobs: {v3: true, v4: false},
	OptionConfigPath:   {v3: true, v4: false},
	OptionPostcss:      {v3: true, v4: false},
	OptionPoll:         {v3: true, v4: false},
	OptionNoAutoprefix: {v3: true, v4: false},
	OptionMinify:       {v3: true, v4: true},
	OptionWatch:        {v3: true, v4: true},
	OptionOptimize:     {v3: false, v4: true},
	OptionWorkingDir:   {v3: false, v4: true},
	OptionSourceMap:    {v3: false, v4: true},
}

// IsSupported reports whether option is accepted by version. Unknown
// options are never supported.
func IsSupported(option Option, version config.CLIVersion) bool {
	s, ok := table[option]
	if !ok {
		return false
	}
	switch version {
	case config.CLIVersionV3:
		return s.v3
	case config.CLIVersionV4:
		return s.v4
	default:
		return false
	}
}

// Supported returns the set of options accepted by version.
func Supported(version config.CLIVersion) map[Option]struct{} {
	out := make(map[Option]struct{})
	for opt := range table {
		if IsSupported(opt, version) {
			out[opt] = struct{}{}
		}
	}
	return out
}

// Filter drops options version does not accept, options carrying a nil
// value, and options absent from the table entirely. The result contains
// only options version accepts with a non-nil value; key order carries no
// meaning. Filter is pure, total, and idempotent: Filter(Filter(x, v), v)
// always equals Filter(x, v).
func Filter(options Options, version config.CLIVersion) Options {
	out := make(Options, len(options))
	for opt, val := range options {
		if val == nil {
			continue
		}
		if !IsSupported(opt, version) {
			continue
		}
		out[opt] = val
	}
	return out
}

// flagNames maps each option to the CLI flag it compiles to. Boolean
// options are presence flags; others take a value.
var flagNames = map[Option]string{
	OptionInputPath:    "--input",
	OptionOutputPath:   "--output",
	OptionContentGlobs: "--content",
	OptionConfigPath:   "--config",
	OptionPostcss:      "--postcss",
	OptionPoll:         "--poll",
	OptionNoAutoprefix: "--no-autoprefixer",
	OptionMinify:       "--minify",
	OptionWatch:        "--watch",
	OptionOptimize:     "--optimize",
	OptionWorkingDir:   "--cwd",
	OptionSourceMap:    "--map",
}

// ToArgs renders an already-filtered option set as the argv the CLI
// subprocess is started with. Option iteration order is sorted so the
// resulting argv is itself deterministic, which keeps process invocations
// reproducible across restarts even though Filter's output is a map.
func ToArgs(filtered Options) []string {
	names := make([]Option, 0, len(filtered))
	for opt := range filtered {
		names = append(names, opt)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	args := make([]string, 0, len(names)*2)
	for _, opt := range names {
		flag, ok := flagNames[opt]
		if !ok {
			continue
		}
		switch v := filtered[opt].(type) {
		case bool:
			if v {
				args = append(args, flag)
			}
		case string:
			args = append(args, flag, v)
		case []string:
			joined := ""
			for i, s := range v {
				if i > 0 {
					joined += ","
				}
				joined += s
			}
			args = append(args, flag, joined)
		}
	}
	return args
}
