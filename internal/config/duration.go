// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

package config

import (
	"time"

	"github.com/invopop/jsonschema"
)

// Duration is a time.Duration that reads from Go duration strings such as
// "15m" or "168h" in YAML files and flags.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// JSONSchema types duration fields as strings in the generated config
// schema, so "15m" validates where a reflected time.Duration would demand
// an integer.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Go duration string such as \"30s\", \"15m\" or \"168h\"",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
	}
}
