// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"gopkg.in/yaml.v3"
)

// Formatter converts an arbitrary object into a []byte.
type Formatter func(value interface{}) ([]byte, error)

// formatYaml marshals value to a yaml-formatted []byte, unless value is nil.
func formatYaml(value interface{}) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	result, err := yaml.Marshal(value)
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSuffix(string(result), "\n")), nil
}

// DefaultFormatters are the formats every command with output supports.
var DefaultFormatters = map[string]Formatter{
	"yaml": formatYaml,
	"json": json.Marshal,
}

// formatterValue implements gnuflag.Value for the --format flag.
type formatterValue struct {
	name       string
	formatters map[string]Formatter
}

// Set stores the chosen formatter name in v.name.
func (v *formatterValue) Set(value string) error {
	if v.formatters[value] == nil {
		return errors.Errorf("unknown format: %s", value)
	}
	v.name = value
	return nil
}

// String returns the chosen formatter name.
func (v *formatterValue) String() string {
	return v.name
}

func (v *formatterValue) doc() string {
	choices := make([]string, 0, len(v.formatters))
	for name := range v.formatters {
		choices = append(choices, name)
	}
	sort.Strings(choices)
	return "specify output format (" + strings.Join(choices, "|") + ")"
}

// Output interprets the --format flag and writes values to stdout in the
// chosen format.
type Output struct {
	formatter *formatterValue
}

// AddFlags injects the --format flag into f, with name as the default
// format.
func (c *Output) AddFlags(f *gnuflag.FlagSet, name string, formatters map[string]Formatter) {
	c.formatter = &formatterValue{formatters: formatters}
	if err := c.formatter.Set(name); err != nil {
		panic(err)
	}
	f.Var(c.formatter, "format", c.formatter.doc())
}

// Write formats value and writes it, followed by a newline, to the
// context's stdout.
func (c *Output) Write(ctx *Context, value interface{}) error {
	data, err := c.formatter.formatters[c.formatter.name](value)
	if err != nil {
		return errors.Trace(err)
	}
	if data == nil {
		return nil
	}
	if _, err := ctx.Stdout.Write(append(data, '\n')); err != nil {
		return errors.Trace(err)
	}
	return nil
}
