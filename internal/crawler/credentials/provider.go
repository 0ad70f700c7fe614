// Package credentials resolves agency logins. Secrets stay inside
// models.Credentials, whose String form never includes them.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"archivegate/internal/crawler/models"
	dErrors "archivegate/pkg/domain-errors"
)

// StaticProvider serves credentials registered at startup.
type StaticProvider struct {
	mu    sync.RWMutex
	creds map[string]models.Credentials
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{creds: make(map[string]models.Credentials)}
}

// Set registers or rotates the credentials for an agency.
func (p *StaticProvider) Set(agencyID string, c models.Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds[agencyID] = c
}

func (p *StaticProvider) Fetch(_ context.Context, agencyID string) (models.Credentials, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.creds[agencyID]
	if !ok {
		return models.Credentials{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no credentials for agency %s", agencyID))
	}
	return c, nil
}

// FromEnv loads ARCHIVEGATE_CRED_<AGENCY>_USERNAME and _SECRET for each
// agency. The credentials ref is the agency's configured ref.
func FromEnv(agencies []models.Agency) (*StaticProvider, error) {
	p := NewStaticProvider()
	for _, a := range agencies {
		prefix := "ARCHIVEGATE_CRED_" + envName(a.ID) + "_"
		user, secret := os.Getenv(prefix+"USERNAME"), os.Getenv(prefix+"SECRET")
		if user == "" || secret == "" {
			return nil, fmt.Errorf("missing %sUSERNAME or %sSECRET", prefix, prefix)
		}
		p.Set(a.ID, models.Credentials{Ref: a.CredentialsRef, Username: user, Secret: secret})
	}
	return p, nil
}

func envName(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}
