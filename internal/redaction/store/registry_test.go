package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivegate/internal/redaction/models"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/sentinel"
)

const ruleSetV1 = `
version: v1
rules:
  - id: ssn
    field_pattern: "*"
    detector:
      kind: regex
      class: ssn
    action: mask
`

func TestRegistry_RegisterAndGet(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	rs, err := Parse([]byte(ruleSetV1))
	require.NoError(t, err)

	require.NoError(t, reg.Register(ctx, rs))
	require.NoError(t, reg.Register(ctx, rs), "identical body is idempotent")

	got, err := reg.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, rs.Digest(), got.Digest())

	_, err = reg.Get(ctx, "v9")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestRegistry_ConflictingBodyRejected(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	rs, err := Parse([]byte(ruleSetV1))
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, rs))

	changed := *rs
	changed.Rules = []models.Rule{rs.Rules[0]}
	changed.Rules[0].Action = models.ActionDrop
	assert.ErrorIs(t, reg.Register(ctx, &changed), sentinel.ErrConflict)

	got, err := reg.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionMask, got.Rules[0].Action)
}

func TestRegistry_ReturnedRuleSetsAreCopies(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	rs, err := Parse([]byte(ruleSetV1))
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, rs))

	got, _ := reg.Get(ctx, "v1")
	got.Rules[0].Action = models.ActionDrop

	again, _ := reg.Get(ctx, "v1")
	assert.Equal(t, models.ActionMask, again.Rules[0].Action)
}

func TestRegistry_LoadDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-v1.yaml"), []byte(ruleSetV1), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02-v2.yml"), []byte(`
version: v2
rules:
  - id: names
    field_pattern: full_name
    detector:
      kind: whole
    action: drop
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	reg := NewRegistry()
	require.NoError(t, reg.LoadDir(ctx, dir))
	assert.Equal(t, []string{"v1", "v2"}, reg.Versions())

	latest, err := reg.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.Version)
}

func TestRegistry_LoadsShippedRuleSets(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.LoadDir(context.Background(), filepath.Join("..", "..", "..", "configs", "rulesets")))
	assert.NotEmpty(t, reg.Versions())
}

func TestParse_RejectsInvalidRuleSets(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "version: v1\nrules: []\nextra: true\n",
		"missing version": "rules: []\n",
		"bad action": `
version: v1
rules:
  - id: r
    field_pattern: "*"
    detector: {kind: whole}
    action: shred
`,
		"unknown class": `
version: v1
rules:
  - id: r
    field_pattern: "*"
    detector: {kind: regex, class: passport}
    action: mask
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}
