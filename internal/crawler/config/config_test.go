package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "archivegate/pkg/domain-errors"
)

func TestLoadShippedConfig(t *testing.T) {
	c, err := Load("../../../configs/crawler.yaml")
	require.NoError(t, err)
	require.Len(t, c.Agencies, 3)

	p, err := c.Profiles.Get("desktop-chrome")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, p.MinDelay)
	assert.Equal(t, "en-US,en;q=0.9", p.Headers["Accept-Language"])
}

func TestParseRejects(t *testing.T) {
	profile := `
profiles:
  - id: chrome
    user_agent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
`
	cases := map[string]string{
		"unknown key": profile + `
agencies:
  - id: fbi
    dataset: fbi-vault
    base_url: https://vault.example.gov
    credentials_ref: vault/fbi
    evasion_profile_id: chrome
    password: hunter2
`,
		"unknown profile": profile + `
agencies:
  - id: fbi
    dataset: fbi-vault
    base_url: https://vault.example.gov
    credentials_ref: vault/fbi
    evasion_profile_id: firefox
`,
		"relative url": profile + `
agencies:
  - id: fbi
    dataset: fbi-vault
    base_url: /vault
    credentials_ref: vault/fbi
    evasion_profile_id: chrome
`,
		"duplicate session": profile + `
agencies:
  - {id: fbi, dataset: fbi-vault, base_url: "https://a.gov", credentials_ref: vault/fbi, evasion_profile_id: chrome}
  - {id: fbi, dataset: fbi-vault, base_url: "https://b.gov", credentials_ref: vault/fbi, evasion_profile_id: chrome}
`,
		"bot profile": `
profiles:
  - id: bot
    user_agent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
`,
	}
	for name, raw := range cases {
		_, err := Parse([]byte(raw))
		require.Error(t, err, name)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), name)
	}
}
