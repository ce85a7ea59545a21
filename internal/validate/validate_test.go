// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/tailwindpool/internal/argfilter"
	poolerrors "github.com/corvidlabs/tailwindpool/pkg/errors"
)

func TestOptionsAcceptsWellShapedValues(t *testing.T) {
	err := Options(argfilter.Options{
		argfilter.OptionInputPath:    "src/input.css",
		argfilter.OptionContentGlobs: []string{"src/**/*.html", "src/**/*.tsx"},
		argfilter.OptionMinify:       true,
	})
	assert.NoError(t, err)
}

func TestOptionsRejectsWrongTypeForPathOption(t *testing.T) {
	err := Options(argfilter.Options{
		argfilter.OptionInputPath: true,
	})
	require.Error(t, err)
	assert.Equal(t, poolerrors.CodeInvalidArgs, poolerrors.GetCode(err))
}

func TestOptionsRejectsWrongTypeForBoolOption(t *testing.T) {
	err := Options(argfilter.Options{
		argfilter.OptionMinify: "yes",
	})
	require.Error(t, err)
	assert.Equal(t, poolerrors.CodeInvalidArgs, poolerrors.GetCode(err))
}

func TestOptionsRejectsNonStringGlobEntries(t *testing.T) {
	err := Options(argfilter.Options{
		argfilter.OptionContentGlobs: []interface{}{"ok.html", 42},
	})
	require.Error(t, err)
	assert.Equal(t, poolerrors.CodeInvalidArgs, poolerrors.GetCode(err))
}

func TestOptionsAcceptsEmptySet(t *testing.T) {
	assert.NoError(t, Options(argfilter.Options{}))
}

func TestPriorityAcceptsKnownValues(t *testing.T) {
	for _, p := range []string{"low", "normal", "high"} {
		assert.NoError(t, Priority(p))
	}
}

func TestPriorityRejectsUnknownValue(t *testing.T) {
	err := Priority("urgent")
	require.Error(t, err)
	assert.Equal(t, poolerrors.CodeInvalidArgs, poolerrors.GetCode(err))
}
