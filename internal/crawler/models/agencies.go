package models

import (
	"net/url"

	dErrors "archivegate/pkg/domain-errors"
)

func (a Agency) Validate() error {
	switch {
	case a.ID == "":
		return dErrors.New(dErrors.CodeValidation, "agency id is required")
	case a.Dataset == "":
		return dErrors.New(dErrors.CodeValidation, "agency "+a.ID+": dataset is required")
	case a.CredentialsRef == "":
		return dErrors.New(dErrors.CodeValidation, "agency "+a.ID+": credentials_ref is required")
	case a.ProfileID == "":
		return dErrors.New(dErrors.CodeValidation, "agency "+a.ID+": evasion_profile_id is required")
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return dErrors.New(dErrors.CodeValidation, "agency "+a.ID+": base_url must be an absolute http(s) url")
	}
	return nil
}
