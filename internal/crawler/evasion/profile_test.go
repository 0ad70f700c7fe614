package evasion

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "archivegate/pkg/domain-errors"
)

const (
	chromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	firefoxLinux  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
)

func TestProfileValidate(t *testing.T) {
	accepted := []string{chromeWindows, firefoxLinux}
	for _, ua := range accepted {
		p := Profile{ID: "p", UserAgent: ua, MinDelay: time.Second, MaxDelay: 2 * time.Second}
		assert.NoError(t, p.Validate(), ua)
	}

	rejected := map[string]string{
		"bot":    "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
		"mobile": "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		"tool":   "curl/8.4.0",
		"empty":  "",
	}
	for name, ua := range rejected {
		err := Profile{ID: "p", UserAgent: ua}.Validate()
		require.Error(t, err, name)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), name)
	}

	err := Profile{ID: "p", UserAgent: chromeWindows, MinDelay: 2 * time.Second, MaxDelay: time.Second}.Validate()
	assert.Error(t, err, "inverted pacing window")
}

func TestProfileApplyAndDelay(t *testing.T) {
	p := Profile{
		ID:        "desktop-chrome",
		UserAgent: chromeWindows,
		Headers:   map[string]string{"Accept-Language": "en-US,en;q=0.9", "User-Agent": "ignored"},
		MinDelay:  100 * time.Millisecond,
		MaxDelay:  300 * time.Millisecond,
	}
	req := httptest.NewRequest("GET", "/records", nil)
	p.Apply(req)
	assert.Equal(t, chromeWindows, req.Header.Get("User-Agent"))
	assert.Equal(t, "en-US,en;q=0.9", req.Header.Get("Accept-Language"))

	for range 100 {
		d := p.Delay()
		assert.GreaterOrEqual(t, d, p.MinDelay)
		assert.LessOrEqual(t, d, p.MaxDelay)
	}
}

func TestRegistry(t *testing.T) {
	good := Profile{ID: "desktop-chrome", UserAgent: chromeWindows}

	r, err := NewRegistry(good)
	require.NoError(t, err)
	got, err := r.Get("desktop-chrome")
	require.NoError(t, err)
	assert.Equal(t, good.UserAgent, got.UserAgent)

	_, err = r.Get("missing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = NewRegistry(good, good)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = NewRegistry(Profile{ID: "bot", UserAgent: "Googlebot/2.1 (+http://www.google.com/bot.html)"})
	assert.Error(t, err)
}
