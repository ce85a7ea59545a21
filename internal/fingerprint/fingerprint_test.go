// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvidlabs/tailwindpool/internal/argfilter"
)

func TestFingerprintStableUnderReordering(t *testing.T) {
	a := argfilter.Options{
		argfilter.OptionMinify: true,
		argfilter.OptionWatch:  false,
	}
	b := argfilter.Options{
		argfilter.OptionWatch:  false,
		argfilter.OptionMinify: true,
	}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintExcludesTransientPaths(t *testing.T) {
	withPath := argfilter.Options{
		argfilter.OptionMinify:    true,
		argfilter.OptionInputPath: "/tmp/a.css",
	}
	withoutPath := argfilter.Options{
		argfilter.OptionMinify: true,
	}

	assert.Equal(t, Fingerprint(withPath), Fingerprint(withoutPath))
}

func TestFingerprintDistinguishesDifferentOptions(t *testing.T) {
	a := argfilter.Options{argfilter.OptionMinify: true}
	b := argfilter.Options{argfilter.OptionMinify: false}

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintIsStableAcrossFilterIdempotence(t *testing.T) {
	opts := argfilter.Options{
		argfilter.OptionMinify:      true,
		argfilter.OptionContentGlobs: []string{"*.html", "*.jsx"},
	}

	once := argfilter.Filter(opts, "v3")
	twice := argfilter.Filter(once, "v3")

	assert.Equal(t, Fingerprint(once), Fingerprint(twice))
}

func TestFingerprintNormalizesUnicodeAndGlobOrder(t *testing.T) {
	a := argfilter.Options{
		argfilter.OptionContentGlobs: []string{"b.html", "a.html"},
	}
	b := argfilter.Options{
		argfilter.OptionContentGlobs: []string{"a.html", "b.html"},
	}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}
