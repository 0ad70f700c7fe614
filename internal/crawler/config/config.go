// Package config loads the crawler's YAML file: the agencies to mirror and
// the evasion profiles their sessions use.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"archivegate/internal/crawler/evasion"
	"archivegate/internal/crawler/models"
	dErrors "archivegate/pkg/domain-errors"
)

type File struct {
	Agencies []models.Agency  `yaml:"agencies"`
	Profiles []evasion.Profile `yaml:"profiles"`
}

// Crawler is a validated File.
type Crawler struct {
	Agencies []models.Agency
	Profiles *evasion.Registry
}

func Load(path string) (*Crawler, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crawler config: %w", err)
	}
	return Parse(raw)
}

// Parse rejects unknown keys, invalid agencies, duplicate sessions and
// agencies that reference a missing profile.
func Parse(raw []byte) (*Crawler, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed crawler config")
	}

	profiles, err := evasion.NewRegistry(f.Profiles...)
	if err != nil {
		return nil, err
	}

	seen := make(map[models.SessionKey]bool, len(f.Agencies))
	for _, a := range f.Agencies {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		key := models.SessionKey{AgencyID: a.ID, CredentialsRef: a.CredentialsRef}
		if seen[key] {
			return nil, dErrors.New(dErrors.CodeValidation, "duplicate agency session "+key.String())
		}
		seen[key] = true
		if _, err := profiles.Get(a.ProfileID); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "agency "+a.ID+" references an unknown evasion profile")
		}
	}
	return &Crawler{Agencies: f.Agencies, Profiles: profiles}, nil
}
