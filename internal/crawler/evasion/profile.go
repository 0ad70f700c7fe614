// Package evasion defines how a crawl session presents itself upstream:
// request pacing, a header set and a browser user agent.
package evasion

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"slices"
	"time"

	"github.com/mssola/useragent"

	dErrors "archivegate/pkg/domain-errors"
)

var desktopBrowsers = []string{"Chrome", "Firefox", "Safari", "Edge"}

// Profile is applied to every request of a session that selected it.
type Profile struct {
	ID        string            `yaml:"id"`
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
	MinDelay  time.Duration     `yaml:"min_delay"`
	MaxDelay  time.Duration     `yaml:"max_delay"`
}

// Validate accepts only user agents that parse as a non-bot desktop build of
// a mainstream browser.
func (p Profile) Validate() error {
	if p.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "evasion profile id is required")
	}
	if p.UserAgent == "" {
		return dErrors.New(dErrors.CodeValidation, "evasion profile user agent is required")
	}
	ua := useragent.New(p.UserAgent)
	if ua.Bot() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("profile %s: user agent identifies as a bot", p.ID))
	}
	if ua.Mobile() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("profile %s: user agent is not a desktop browser", p.ID))
	}
	if name, _ := ua.Browser(); !slices.Contains(desktopBrowsers, name) {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("profile %s: unrecognised browser %q", p.ID, name))
	}
	if p.MinDelay < 0 || p.MaxDelay < p.MinDelay {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("profile %s: invalid pacing window", p.ID))
	}
	return nil
}

// Apply sets the profile's user agent and headers on req.
func (p Profile) Apply(req *http.Request) {
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", p.UserAgent)
}

// Delay returns a pause drawn uniformly from [MinDelay, MaxDelay].
func (p Profile) Delay() time.Duration {
	if p.MaxDelay <= p.MinDelay {
		return p.MinDelay
	}
	return p.MinDelay + rand.N(p.MaxDelay-p.MinDelay+1)
}

// Pace sleeps for one Delay or until ctx is done.
func (p Profile) Pace(ctx context.Context) error {
	d := p.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Registry resolves profile ids. Only validated profiles are registered.
type Registry struct {
	profiles map[string]Profile
}

func NewRegistry(profiles ...Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.profiles[p.ID]; dup {
			return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("duplicate evasion profile %s", p.ID))
		}
		r.profiles[p.ID] = p
	}
	return r, nil
}

func (r *Registry) Get(id string) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("evasion profile %s not found", id))
	}
	return p, nil
}
