// Package policyconfig loads policy tables from YAML files and keeps a
// PolicyStore in sync with the file on disk.
package policyconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ierrors "github.com/LaTars4444/laeoutreach/internal/errors"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

var (
	errMissingField  = errors.New("missing required field")
	errEmptyDocument = errors.New("policy document is empty")
)

type fileFormat struct {
	Version      string        `yaml:"version"`
	Capabilities []entryFormat `yaml:"capabilities"`
}

type entryFormat struct {
	Name          string  `yaml:"name"`
	TrialDuration *string `yaml:"trial_duration,omitempty"`
	TierGatedOnly bool    `yaml:"tier_gated_only,omitempty"`
}

// LoadFile reads and parses the policy table at path.
func LoadFile(path string) (*entitlements.PolicyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %w", ierrors.ErrNotFound, err)
		}
		return nil, ierrors.WrapIOError("load_policy", path, err)
	}
	return Parse(data, path)
}

// Parse builds a policy table from YAML. source names the origin in errors.
// An empty document is rejected: a file caught mid-write must not replace a
// served table with one that grants no trials.
func Parse(data []byte, source string) (*entitlements.PolicyTable, error) {
	var doc fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			err = errEmptyDocument
		}
		return nil, ierrors.WrapParseError("parse_policy", source, err)
	}

	version := strings.TrimSpace(doc.Version)
	if version == "" {
		version = source
	}

	entries := make([]entitlements.PolicyEntry, 0, len(doc.Capabilities))
	for i, raw := range doc.Capabilities {
		entry, err := raw.toEntry(source, i)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	table, err := entitlements.NewPolicyTable(version, entries...)
	if err != nil {
		return nil, ierrors.WrapValidationError("validate_policy", source, "capabilities", err)
	}
	return table, nil
}

// Marshal renders table in the format Parse reads.
func Marshal(table *entitlements.PolicyTable) ([]byte, error) {
	doc := fileFormat{Version: table.Version()}
	for _, entry := range table.Entries() {
		out := entryFormat{Name: string(entry.Capability), TierGatedOnly: entry.TierGatedOnly}
		if !entry.TierGatedOnly {
			d := entry.TrialDuration.String()
			out.TrialDuration = &d
		}
		doc.Capabilities = append(doc.Capabilities, out)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode policy table: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode policy table: %w", err)
	}
	return buf.Bytes(), nil
}

func (e entryFormat) toEntry(source string, index int) (entitlements.PolicyEntry, error) {
	field := func(name string) string {
		return fmt.Sprintf("capabilities[%d].%s", index, name)
	}

	name := strings.TrimSpace(e.Name)
	if name == "" {
		return entitlements.PolicyEntry{}, ierrors.WrapValidationError("validate_policy", source, field("name"), errMissingField)
	}

	entry := entitlements.PolicyEntry{
		Capability:    entitlements.Capability(name),
		TierGatedOnly: e.TierGatedOnly,
	}
	if e.TrialDuration == nil {
		if !e.TierGatedOnly {
			return entitlements.PolicyEntry{}, ierrors.WrapValidationError("validate_policy", source, field("trial_duration"), errMissingField)
		}
		return entry, nil
	}

	d, err := time.ParseDuration(strings.TrimSpace(*e.TrialDuration))
	if err != nil {
		return entitlements.PolicyEntry{}, ierrors.WrapValidationError("validate_policy", source, field("trial_duration"), err)
	}
	entry.TrialDuration = d
	return entry, nil
}
