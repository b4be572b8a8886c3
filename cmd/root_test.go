package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/grafana/webcat/internal/testapp"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	c := newRootCommand(context.Background(), &stdout, &stderr)
	c.cmd.SetArgs(append(args, "--no-color"))
	err := c.cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func startApp(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(testapp.New())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestSplitTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw, base, path string
		wantErr         bool
	}{
		{raw: "http://localhost:8080", base: "http://localhost:8080", path: "/"},
		{raw: "https://example.com/form?q=1", base: "https://example.com", path: "/form?q=1"},
		{raw: "/form", wantErr: true},
		{raw: "ftp://example.com/", wantErr: true},
		{raw: "http://[::1", wantErr: true},
	}
	for _, tt := range tests {
		base, path, err := splitTarget(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.base, base)
		assert.Equal(t, tt.path, path)
	}
}

func TestDriversCommand(t *testing.T) {
	out, err := execute(t, "drivers")
	require.NoError(t, err)
	assert.Contains(t, out, "replay (default)\n")
	assert.Contains(t, out, "bridge\n")
	assert.Contains(t, out, "chromium\n")

	out, err = execute(t, "drivers", "--driver", "chromium")
	require.NoError(t, err)
	assert.Contains(t, out, "chromium (default)\n")
}

func TestVisitCommand(t *testing.T) {
	app := startApp(t)

	out, err := execute(t, "visit", app+"/with_html")
	require.NoError(t, err)
	assert.Contains(t, out, "URL: "+app+"/with_html")
	assert.Contains(t, out, "Status: 200")
	assert.Contains(t, out, "This is a test")
	assert.NotContains(t, out, "<h1>")

	save := filepath.Join(t.TempDir(), "page.html")
	out, err = execute(t, "visit", "--body", "--save", save, app+"/")
	require.NoError(t, err)
	assert.Contains(t, out, "<p>Hello world!</p>")
	b, err := os.ReadFile(save)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Hello world!")

	_, err = execute(t, "visit", "/relative")
	require.Error(t, err)
	_, err = execute(t, "visit", "--driver", "nope", app)
	require.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	app := startApp(t)

	out, err := execute(t, "inspect", app+"/form")
	require.NoError(t, err)

	var got struct {
		Forms []formReport `yaml:"forms"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Len(t, got.Forms, 5)

	first := got.Forms[0]
	assert.Equal(t, "POST", first.Method)
	assert.Equal(t, app+"/form", first.Action)
	assert.Equal(t, "application/x-www-form-urlencoded", first.Enctype)
	require.NotEmpty(t, first.Fields)
	assert.Equal(t, formField{Name: "first_name", Value: "John"}, first.Fields[0])

	assert.Equal(t, "multipart/form-data", got.Forms[2].Enctype)
	assert.Equal(t, "GET", got.Forms[4].Method)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := execute(t, "drivers", "--locator-order", "random")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, err = execute(t, "drivers", "--timeout", "soon")
	require.Error(t, err)

	_, err = execute(t, "drivers", "--log-level", "chatty")
	require.Error(t, err)
}

func TestServeRejectsDriver(t *testing.T) {
	_, err := execute(t, "serve", "--driver", "bridge", "--listen", "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot host the bridge driver")

	_, err = execute(t, "serve", "--driver", "nope", "--listen", "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope"`)
}
