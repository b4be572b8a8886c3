package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/common"
	"github.com/grafana/webcat/internal/testapp"
	"github.com/grafana/webcat/replay"
)

func openReplay(_ context.Context, target string) (api.Driver, error) {
	return replay.New(target, replay.Options{})
}

// newTestBridge serves the fixture application and a bridge server hosting
// replay drivers. It returns the bridge websocket URL and the app URL.
func newTestBridge(t *testing.T, open Opener) (*Server, string, string) {
	t.Helper()

	app := httptest.NewServer(testapp.New())
	t.Cleanup(app.Close)

	bs := NewServer(open, ServerOptions{TmpDir: t.TempDir()})
	srv := httptest.NewServer(bs)
	t.Cleanup(srv.Close)

	return bs, "ws" + strings.TrimPrefix(srv.URL, "http"), app.URL
}

func dialTestDriver(t *testing.T) (*Server, *Driver) {
	t.Helper()

	bs, wsURL, appURL := newTestBridge(t, openReplay)
	d, err := Dial(context.Background(), wsURL, Options{Target: appURL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return bs, d
}

func findOne(t *testing.T, d *Driver, selector string) api.ElementHandle {
	t.Helper()

	els, err := d.Find(context.Background(), nil, selector)
	require.NoError(t, err)
	require.NotEmpty(t, els, selector)
	return els[0]
}

func TestRemoteError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code string
		want error
	}{
		{"stale", fmt.Errorf("wrapped: %w", common.ErrStaleElement), codeStaleElement, common.ErrStaleElement},
		{
			"redirects", fmt.Errorf("gave up after 3 redirects: %w", common.ErrTooManyRedirects),
			codeTooManyRedirects, common.ErrTooManyRedirects,
		},
		{
			"not found", &common.ElementNotFoundError{Kind: common.KindButton, Locator: "Go"},
			codeElementNotFound, common.ErrElementNotFound,
		},
		{"internal", errors.New("boom"), codeInternal, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			re := toRemoteError(tt.err)
			assert.Equal(t, tt.code, re.Code)
			assert.Equal(t, tt.err.Error(), re.Message)
			if tt.want == nil {
				assert.Nil(t, re.Unwrap())
				return
			}
			assert.ErrorIs(t, re, tt.want)
		})
	}
}

func TestDriverVisit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bs, d := dialTestDriver(t)
	assert.Equal(t, 1, bs.Sessions())

	_, err := d.Document(ctx)
	require.ErrorIs(t, err, common.ErrNoDocument)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, codeNoDocument, re.Code)

	require.NoError(t, d.Visit(ctx, "/"))
	doc, err := d.Document(ctx)
	require.NoError(t, err)
	assert.Contains(t, doc.Text(), "Hello world!")
	assert.Equal(t, 200, d.StatusCode())

	require.NoError(t, d.Visit(ctx, "/with_html"))
	require.NoError(t, d.Click(ctx, findOne(t, d, "#foo")))
	cur, err := d.CurrentURL(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(cur, "/foo"), cur)

	require.NoError(t, d.Visit(ctx, "/does-not-exist"))
	_, err = d.Document(ctx)
	require.NoError(t, err)
	assert.Equal(t, 404, d.StatusCode())

	_, err = d.Find(ctx, nil, "[[")
	require.ErrorIs(t, err, common.ErrInvalidSelector)

	require.NoError(t, d.Close())
	assert.Eventually(t, func() bool { return bs.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, d.Close())
}

func TestDriverForm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, d := dialTestDriver(t)
	require.NoError(t, d.Visit(ctx, "/form"))

	first := findOne(t, d, "#form_first_name")
	require.NoError(t, d.SetValue(ctx, first, "Harry"))
	require.ErrorIs(t, d.SetValue(ctx, first, "again"), common.ErrStaleElement)

	require.NoError(t, d.SetChecked(ctx, findOne(t, d, "#form_pets_cat"), true))
	require.NoError(t, d.SetSelected(ctx, findOne(t, d, "#form_locale option[value=fi]"), true))
	assert.Equal(t, "Harry", findOne(t, d, "#form_first_name").Value())

	form := findOne(t, d, "form")
	buttons, err := d.Find(ctx, form, "#awe123")
	require.NoError(t, err)
	require.Len(t, buttons, 1)
	require.NoError(t, d.Submit(ctx, form, buttons[0]))

	doc, err := d.Document(ctx)
	require.NoError(t, err)
	res, err := testapp.ParseResults(doc.Body())
	require.NoError(t, err)
	assert.Equal(t, []string{"Harry"}, res["first_name"])
	assert.Equal(t, []string{"dog", "cat", "hamster"}, res["pets"])
	assert.Equal(t, []string{"fi"}, res["locale"])
	assert.Equal(t, []string{"awesome"}, res["awesome"])

	require.ErrorIs(t, d.SetValue(ctx, findOne(t, d, "#results"), "x"), common.ErrNotAFormControl)
}

func TestDriverUpload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test_file.txt")
	require.NoError(t, os.WriteFile(path, []byte("File content"), 0o600))

	ctx := context.Background()
	_, d := dialTestDriver(t)
	require.NoError(t, d.Visit(ctx, "/form"))
	require.NoError(t, d.AttachFile(ctx, findOne(t, d, "#form_document"), path))
	require.NoError(t, d.Click(ctx, findOne(t, d, `form[action="/upload"] input[type=submit]`)))

	doc, err := d.Document(ctx)
	require.NoError(t, err)
	assert.Contains(t, doc.Text(), "test_file.txt")
	assert.Contains(t, doc.Text(), "File content")

	err = d.AttachFile(ctx, findOne(t, d, "h2"), filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestDialFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, err := Dial(ctx, "", Options{})
	require.Error(t, err)

	failing := func(context.Context, string) (api.Driver, error) {
		return nil, fmt.Errorf("no browser: %w", common.ErrDriverNotFound)
	}
	bs, wsURL, appURL := newTestBridge(t, failing)
	_, err = Dial(ctx, wsURL, Options{Target: appURL, Timeout: 5 * time.Second})
	require.ErrorIs(t, err, common.ErrDriverNotFound)
	assert.Eventually(t, func() bool { return bs.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServerProtocol(t *testing.T) {
	t.Parallel()

	_, wsURL, appURL := newTestBridge(t, openReplay)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	roundTrip := func(req request) reply {
		t.Helper()
		require.NoError(t, conn.WriteJSON(req))
		var rep reply
		require.NoError(t, conn.ReadJSON(&rep))
		assert.Equal(t, req.ID, rep.ID)
		return rep
	}

	rep := roundTrip(request{ID: 1, Command: cmdVisit, Data: []byte(`{"path":"/"}`)})
	require.NotNil(t, rep.Error)
	assert.Equal(t, codeBadRequest, rep.Error.Code)

	rep = roundTrip(request{ID: 2, Command: cmdStart, Data: []byte(`{"target":"` + appURL + `"}`)})
	require.Nil(t, rep.Error)
	assert.Contains(t, string(rep.Data), `"session"`)

	rep = roundTrip(request{ID: 3, Command: "fly"})
	require.NotNil(t, rep.Error)
	assert.Equal(t, codeBadRequest, rep.Error.Code)

	rep = roundTrip(request{ID: 4, Command: cmdVisit})
	require.NotNil(t, rep.Error)
	assert.Equal(t, codeBadRequest, rep.Error.Code)

	rep = roundTrip(request{ID: 5, Command: cmdVisit, Data: []byte(`{"path":"/form"}`)})
	require.Nil(t, rep.Error)

	rep = roundTrip(request{ID: 6, Command: cmdClick, Data: []byte(`{"el":{"doc":999,"path":[1]}}`)})
	require.NotNil(t, rep.Error)
	assert.Equal(t, codeStaleElement, rep.Error.Code)
}
