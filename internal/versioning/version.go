// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package versioning resolves and compares Tailwind CSS CLI versions and
// tracks the breaking changes the Argument Filter (internal/argfilter) must
// account for across the v3/v4 boundary.
package versioning

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CLIVersion represents a Tailwind CSS CLI release.
type CLIVersion struct {
	Major int
	Minor int
	Patch int
	Raw   string
}

// ParseVersion parses a version string like "v3.4.1" into a CLIVersion.
func ParseVersion(version string) (*CLIVersion, error) {
	trimmed := strings.TrimPrefix(version, "v")

	parts := strings.Split(trimmed, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid version format: %s (expected x.y.z)", version)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid major version: %s", parts[0])
	}

	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid minor version: %s", parts[1])
	}

	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid patch version: %s", parts[2])
	}

	return &CLIVersion{
		Major: major,
		Minor: minor,
		Patch: patch,
		Raw:   fmt.Sprintf("v%d.%d.%d", major, minor, patch),
	}, nil
}

// String returns the string representation of the version.
func (v *CLIVersion) String() string {
	return v.Raw
}

// Compare compares two versions. Returns -1 if v < other, 0 if equal, 1 if
// v > other.
func (v *CLIVersion) Compare(other *CLIVersion) int {
	if v.Major != other.Major {
		if v.Major < other.Major {
			return -1
		}
		return 1
	}

	if v.Minor != other.Minor {
		if v.Minor < other.Minor {
			return -1
		}
		return 1
	}

	if v.Patch != other.Patch {
		if v.Patch < other.Patch {
			return -1
		}
		return 1
	}

	return 0
}

// MajorLine returns the coarse generation ("v3" or "v4") this version
// belongs to. The Argument Filter keys its option table off this, not the
// full semantic version.
func (v *CLIVersion) MajorLine() string {
	return fmt.Sprintf("v%d", v.Major)
}

// IsCompatibleWith reports whether v and other share a major line. Patch
// and minor differences within a major line never change the accepted
// argument set.
func (v *CLIVersion) IsCompatibleWith(other *CLIVersion) bool {
	return v.Major == other.Major
}

// SupportedVersions are the CLI releases this pool has been validated
// against.
var SupportedVersions = []*CLIVersion{
	{Major: 3, Minor: 4, Patch: 1, Raw: "v3.4.1"},
	{Major: 3, Minor: 4, Patch: 17, Raw: "v3.4.17"},
	{Major: 4, Minor: 0, Patch: 0, Raw: "v4.0.0"},
	{Major: 4, Minor: 1, Patch: 4, Raw: "v4.1.4"},
}

// LatestVersion returns the latest supported version.
func LatestVersion() *CLIVersion {
	if len(SupportedVersions) == 0 {
		return nil
	}

	latest := SupportedVersions[0]
	for _, v := range SupportedVersions[1:] {
		if v.Compare(latest) > 0 {
			latest = v
		}
	}

	return latest
}

// StableVersion returns the latest supported v3 release (the longest-lived
// generation in the field), which FindBestVersion resolves "stable" to. It
// does not set the pool's default line: config.NewDefault targets v4.
func StableVersion() *CLIVersion {
	stable, _ := ParseVersion("v3.4.17")
	return stable
}

// FindBestVersion resolves a constraint ("latest", "stable", an exact
// version, or a bare major line like "v4") to a supported CLIVersion.
func FindBestVersion(constraint string) (*CLIVersion, error) {
	if constraint == "" || constraint == "latest" {
		return LatestVersion(), nil
	}

	if constraint == "stable" {
		return StableVersion(), nil
	}

	if constraint == "v3" || constraint == "v4" {
		requestedMajor := 3
		if constraint == "v4" {
			requestedMajor = 4
		}
		var candidates []*CLIVersion
		for _, supported := range SupportedVersions {
			if supported.Major == requestedMajor {
				candidates = append(candidates, supported)
			}
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("no supported version found for major line %s", constraint)
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].Compare(candidates[j]) > 0
		})
		return candidates[0], nil
	}

	requested, err := ParseVersion(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint: %s", constraint)
	}

	for _, supported := range SupportedVersions {
		if supported.Compare(requested) == 0 {
			return supported, nil
		}
	}

	var compatible []*CLIVersion
	for _, supported := range SupportedVersions {
		if supported.IsCompatibleWith(requested) {
			compatible = append(compatible, supported)
		}
	}

	if len(compatible) == 0 {
		return nil, fmt.Errorf("no compatible version found for %s", constraint)
	}

	sort.Slice(compatible, func(i, j int) bool {
		return compatible[i].Compare(compatible[j]) > 0
	})

	return compatible[0], nil
}

// BreakingChange describes a CLI flag or behavior that changed between
// major lines. internal/worker consults these to name the flag at fault
// when the CLI rejects an argument; internal/argfilter strips flags using
// its own option table and does not read them.
type BreakingChange struct {
	Type        string `json:"type"` // "flag_removed", "flag_added", "default_changed"
	Description string `json:"description"`
	OldValue    string `json:"old_value,omitempty"`
	NewValue    string `json:"new_value,omitempty"`
	Mitigation  string `json:"mitigation,omitempty"`
}

// VersionCompatibilityMatrix records, per major-line transition, the CLI
// flag changes introduced across it.
type VersionCompatibilityMatrix struct {
	// BreakingChanges maps a "vX->vY" transition key to the flag changes
	// introduced.
	BreakingChanges map[string][]BreakingChange
}

// DefaultCompatibilityMatrix returns the v3->v4 breaking change set
// published in the Tailwind CSS v4 upgrade guide.
func DefaultCompatibilityMatrix() *VersionCompatibilityMatrix {
	return &VersionCompatibilityMatrix{
		BreakingChanges: map[string][]BreakingChange{
			"v3->v4": {
				{
					Type:        "flag_removed",
					Description: "--postcss flag removed; v4 always runs its own CSS pipeline",
					OldValue:    "--postcss",
					NewValue:    "",
					Mitigation:  "strip --postcss for v4 targets",
				},
				{
					Type:        "flag_removed",
					Description: "--no-autoprefixer removed; autoprefixing is handled by Lightning CSS and cannot be disabled",
					OldValue:    "--no-autoprefixer",
					NewValue:    "",
					Mitigation:  "strip --no-autoprefixer for v4 targets",
				},
				{
					Type:        "flag_removed",
					Description: "--content removed; v4 detects content sources automatically",
					OldValue:    "--content",
					NewValue:    "",
					Mitigation:  "strip --content for v4 targets",
				},
				{
					Type:        "flag_added",
					Description: "--optimize added as the minify/optimize entry point distinct from --minify",
					OldValue:    "",
					NewValue:    "--optimize",
					Mitigation:  "allow --optimize only for v4 targets",
				},
			},
		},
	}
}

// GetBreakingChanges returns the breaking changes for a major-line
// transition, e.g. from {Major: 3} to {Major: 4}.
func (m *VersionCompatibilityMatrix) GetBreakingChanges(from, to *CLIVersion) []BreakingChange {
	key := fmt.Sprintf("%s->%s", from.MajorLine(), to.MajorLine())
	return m.BreakingChanges[key]
}
