package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	dErrors "archivegate/pkg/domain-errors"
)

// Policies maps dataset id to its budget policy.
type Policies map[string]Policy

type policyFile struct {
	Datasets []Policy `yaml:"datasets"`
}

// LoadPolicies reads a YAML policy file.
func LoadPolicies(path string) (Policies, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read budget policies: %w", err)
	}
	return ParsePolicies(raw)
}

// ParsePolicies decodes and validates policies. Duplicate datasets are rejected.
func ParsePolicies(raw []byte) (Policies, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	var f policyFile
	if err := dec.Decode(&f); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed budget policy file")
	}
	out := make(Policies, len(f.Datasets))
	for _, p := range f.Datasets {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := out[p.DatasetID]; dup {
			return nil, dErrors.New(dErrors.CodeValidation, "duplicate budget policy for "+p.DatasetID)
		}
		out[p.DatasetID] = p
	}
	return out, nil
}
