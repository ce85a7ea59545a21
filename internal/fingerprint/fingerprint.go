// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint implements C2: a deterministic, order-independent
// hash of a filtered option set that identifies a reusable worker.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/corvidlabs/tailwindpool/internal/argfilter"
)

// Key is an opaque, equality-comparable fingerprint. Two requests whose
// filtered options produce the same Key must be serviceable by the same
// worker (invariant 1 of the data model).
type Key string

// transientOptions never participate in the fingerprint: they name
// per-invocation paths that the content-in-band submission protocol makes
// irrelevant to worker reuse. The worker reads request content from stdin
// and the capture protocol locates output independently of the path the
// caller happened to pass.
var transientOptions = map[argfilter.Option]struct{}{
	argfilter.OptionInputPath:  {},
	argfilter.OptionOutputPath: {},
}

// Fingerprint computes a stable key for filtered, the already
// version-filtered option set (see internal/argfilter.Filter). It is
// stable under reordering of option keys and under any further filtering
// pass, since Filter is idempotent and Fingerprint excludes transient keys
// before hashing.
func Fingerprint(filtered argfilter.Options) Key {
	type entry struct {
		name  string
		value string
	}

	entries := make([]entry, 0, len(filtered))
	for opt, val := range filtered {
		if _, transient := transientOptions[opt]; transient {
			continue
		}
		entries = append(entries, entry{
			name:  string(opt),
			value: normalizeValue(val),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].name < entries[j].name
	})

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.name)
		b.WriteByte('=')
		b.WriteString(e.value)
		b.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return Key(hex.EncodeToString(sum[:]))
}

// normalizeValue renders an option value as a canonical, NFC-normalized
// string so that Unicode-equivalent but differently-encoded values (e.g. a
// content glob with a combining diacritic written two ways) fingerprint
// identically.
func normalizeValue(val argfilter.Value) string {
	switch v := val.(type) {
	case string:
		return norm.NFC.String(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []string:
		normalized := make([]string, len(v))
		for i, s := range v {
			normalized[i] = norm.NFC.String(s)
		}
		sort.Strings(normalized)
		return strings.Join(normalized, ",")
	default:
		return norm.NFC.String(fmt.Sprintf("%v", v))
	}
}
