// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import "errors"

var (
	// ErrInvalidMaxPoolSize is returned when MaxPoolSize is not positive.
	ErrInvalidMaxPoolSize = errors.New("max pool size must be greater than 0")

	// ErrInvalidTimeout is returned when a timeout field is not positive.
	ErrInvalidTimeout = errors.New("timeout must be greater than 0")

	// ErrInvalidDegradedThreshold is returned when DegradedErrorThreshold is
	// not positive.
	ErrInvalidDegradedThreshold = errors.New("degraded error threshold must be greater than 0")

	// ErrInvalidCLIVersion is returned when ActiveCLIVersion names neither
	// v3 nor v4.
	ErrInvalidCLIVersion = errors.New("active CLI version must be v3 or v4")

	// ErrInvalidCaptureTimeout is returned when a capture tier timeout is
	// not positive.
	ErrInvalidCaptureTimeout = errors.New("capture tier timeouts must be greater than 0")
)
