package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func TestConfigApply(t *testing.T) {
	t.Parallel()

	defaults := NewConfig()
	assert.Equal(t, "replay", defaults.Driver.String)
	assert.False(t, defaults.Driver.Valid)

	got := defaults.Apply(Config{
		Driver:       null.StringFrom("chromium"),
		MaxRedirects: null.IntFrom(3),
		Timeout:      null.StringFrom(""),
		ChromiumArgs: []string{"no-sandbox"},
	})
	assert.Equal(t, "chromium", got.Driver.String)
	assert.Equal(t, int64(3), got.MaxRedirects.Int64)
	assert.Equal(t, "30s", got.Timeout.String, "empty values must not override")
	assert.Equal(t, []string{"no-sandbox"}, got.ChromiumArgs)
	assert.True(t, got.ChromiumHeadless.Bool)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		conf    Config
		wantErr string
	}{
		{name: "defaults", conf: NewConfig()},
		{
			name:    "bad_timeout",
			conf:    NewConfig().Apply(Config{Timeout: null.StringFrom("soon")}),
			wantErr: "invalid timeout",
		},
		{
			name:    "negative_timeout",
			conf:    NewConfig().Apply(Config{Timeout: null.StringFrom("-1s")}),
			wantErr: "timeout must be positive",
		},
		{
			name:    "negative_redirects",
			conf:    NewConfig().Apply(Config{MaxRedirects: null.IntFrom(-1)}),
			wantErr: "max redirects",
		},
		{
			name:    "locator_order",
			conf:    NewConfig().Apply(Config{LocatorOrder: null.StringFrom("random")}),
			wantErr: "unknown locator order",
		},
		{
			name: "document_order",
			conf: NewConfig().Apply(Config{LocatorOrder: null.StringFrom(LocatorOrderDocument)}),
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.conf.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfigTimeoutDuration(t *testing.T) {
	t.Parallel()

	d, err := NewConfig().TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestConsolidate(t *testing.T) {
	t.Setenv("WEBCAT_DRIVER", "bridge")
	t.Setenv("WEBCAT_MAX_REDIRECTS", "5")
	t.Setenv("WEBCAT_CHROMIUM_HEADLESS", "false")
	t.Setenv("WEBCAT_CHROMIUM_ARGS", "no-sandbox,mute-audio")

	raw, err := json.Marshal(map[string]any{
		"driver":  "chromium",
		"timeout": "5s",
		"appHost": "app.test",
	})
	require.NoError(t, err)

	c, err := Consolidate(raw)
	require.NoError(t, err)
	assert.Equal(t, "bridge", c.Driver.String, "env wins over JSON")
	assert.Equal(t, int64(5), c.MaxRedirects.Int64)
	assert.Equal(t, "5s", c.Timeout.String)
	assert.Equal(t, "app.test", c.AppHost.String)
	assert.False(t, c.ChromiumHeadless.Bool)
	assert.True(t, c.ChromiumHeadless.Valid)
	assert.Equal(t, []string{"no-sandbox", "mute-audio"}, c.ChromiumArgs)
}

func TestConsolidateInvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := Consolidate(json.RawMessage(`{"driver":`))
	require.Error(t, err)
}
