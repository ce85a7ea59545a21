// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package validate checks the shape of an incoming request's options
// against an embedded OpenAPI 3 schema before the Argument Filter (C1)
// ever sees them. A caller that sends a bool where a path string belongs,
// or a plain string where a glob list belongs, is rejected up front rather
// than discovered later as a confusing CLI argument error.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/corvidlabs/tailwindpool/internal/argfilter"
	poolerrors "github.com/corvidlabs/tailwindpool/pkg/errors"
)

// optionsSchema describes the legal shape of a request's option set: path
// options are strings, content_globs is a string array, and every CLI
// switch is a bool. It does not encode version support (v3-only vs
// v4-only options) since that is argfilter's job, not a shape concern.
var optionsSchema = buildOptionsSchema()

func buildOptionsSchema() *openapi3.Schema {
	str := openapi3.NewStringSchema()
	boolean := openapi3.NewBoolSchema()
	globs := openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())

	schema := openapi3.NewObjectSchema()
	schema.Properties = openapi3.Schemas{
		string(argfilter.OptionInputPath):    openapi3.NewSchemaRef("", str),
		string(argfilter.OptionOutputPath):   openapi3.NewSchemaRef("", str),
		string(argfilter.OptionContentGlobs): openapi3.NewSchemaRef("", globs),
		string(argfilter.OptionConfigPath):   openapi3.NewSchemaRef("", str),
		string(argfilter.OptionPostcss):      openapi3.NewSchemaRef("", boolean),
		string(argfilter.OptionPoll):         openapi3.NewSchemaRef("", boolean),
		string(argfilter.OptionNoAutoprefix): openapi3.NewSchemaRef("", boolean),
		string(argfilter.OptionMinify):       openapi3.NewSchemaRef("", boolean),
		string(argfilter.OptionWatch):        openapi3.NewSchemaRef("", boolean),
		string(argfilter.OptionOptimize):     openapi3.NewSchemaRef("", boolean),
		string(argfilter.OptionWorkingDir):   openapi3.NewSchemaRef("", str),
		string(argfilter.OptionSourceMap):    openapi3.NewSchemaRef("", boolean),
	}
	return schema
}

// prioritySchema constrains a raw priority string to the three names
// scheduler.Priority defines; Priority checks a string against it.
// scheduler.Priority itself is a typed enum, so there is nothing left for
// the schema to enforce once a value has that type.
var prioritySchema = openapi3.NewStringSchema().WithEnum("low", "normal", "high")

// Options validates an option set's shape against the embedded schema.
// Unknown option keys are left to argfilter to silently drop; this only
// catches options that are present but carry the wrong kind of value.
func Options(options argfilter.Options) error {
	generic, err := toGenericJSON(options)
	if err != nil {
		return poolerrors.Wrap(poolerrors.CodeInvalidArgs, "could not encode request options for validation", err)
	}
	if err := optionsSchema.VisitJSON(generic); err != nil {
		return poolerrors.Wrap(poolerrors.CodeInvalidArgs, "request options failed schema validation", err)
	}
	return nil
}

// Priority validates a raw priority string (e.g. from a wire request) is
// one of the enum values the pool understands.
func Priority(raw string) error {
	if err := prioritySchema.VisitJSON(raw); err != nil {
		return poolerrors.Wrap(poolerrors.CodeInvalidArgs, fmt.Sprintf("priority %q is not one of low, normal, high", raw), err)
	}
	return nil
}

// toGenericJSON round-trips options through encoding/json so Go-native
// values (a []string of globs, a named Option map key) become the plain
// map[string]interface{}/[]interface{} shapes openapi3.Schema.VisitJSON
// expects, rather than passing Go types it does not know how to inspect.
func toGenericJSON(options argfilter.Options) (map[string]interface{}, error) {
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}
