package browser

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/bridge"
	"github.com/grafana/webcat/chromium"
	"github.com/grafana/webcat/common"
	"github.com/grafana/webcat/config"
	"github.com/grafana/webcat/internal/testapp"
	"github.com/grafana/webcat/log"
	"github.com/grafana/webcat/storage"
)

// startBridge serves a bridge hosting replay drivers and returns its URL.
func startBridge(t *testing.T) string {
	t.Helper()

	open := func(ctx context.Context, target string) (api.Driver, error) {
		factory, ok := Lookup(DriverReplay)
		require.True(t, ok)
		return factory(ctx, target, config.NewConfig(), log.NewNullLogger())
	}
	srv := httptest.NewServer(bridge.NewServer(open, bridge.ServerOptions{TmpDir: t.TempDir()}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// testDrivers returns the drivers sessions are tested with. Chromium is
// included when a browser is installed.
func testDrivers(t *testing.T) []string {
	t.Helper()

	drivers := []string{DriverReplay, DriverBridge}
	if !testing.Short() && (os.Getenv("WEBCAT_CHROMIUM_PATH") != "" || chromium.ExecutablePath() != "") {
		drivers = append(drivers, DriverChromium)
	}
	return drivers
}

func newTestSession(t *testing.T, driver string, opts ...Option) *Session {
	t.Helper()

	cfg := config.NewConfig()
	switch driver {
	case DriverBridge:
		cfg.BridgeURL = null.StringFrom(startBridge(t))
	case DriverChromium:
		cfg.ChromiumPath = null.NewString(os.Getenv("WEBCAT_CHROMIUM_PATH"), true)
	}
	s := New(context.Background(), driver, testapp.New(), append([]Option{WithConfig(cfg)}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	assert.Subset(t, Drivers(), []string{DriverReplay, DriverChromium, DriverBridge})

	factory, _ := Lookup(DriverReplay)
	assert.Panics(t, func() { Register(DriverReplay, factory) })
	assert.Panics(t, func() { Register("registry-nil", nil) })

	Register("registry-custom", factory)
	_, ok := Lookup("registry-custom")
	assert.True(t, ok)
	assert.Contains(t, Drivers(), "registry-custom")

	_, ok = Lookup("registry-missing")
	assert.False(t, ok)
}

func TestSessionDriverNotFound(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), "does-not-exist", testapp.New())

	_, err := s.Driver()
	require.ErrorIs(t, err, common.ErrDriverNotFound)
	var dnf *common.DriverNotFoundError
	require.True(t, errors.As(err, &dnf))
	assert.Equal(t, "does-not-exist", dnf.Name)

	require.ErrorIs(t, s.Visit("/"), common.ErrDriverNotFound)
	require.NoError(t, s.Close())
}

func TestSessionFormSubmission(t *testing.T) {
	t.Parallel()

	for _, driver := range testDrivers(t) {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			s := newTestSession(t, driver)
			require.NoError(t, s.Visit("/form"))
			require.NoError(t, s.FillIn("First Name", "John"))
			require.NoError(t, s.FillIn("form_password", "seeekrit"))
			require.NoError(t, s.Check("Dog"))
			require.NoError(t, s.Uncheck("Cat"))
			require.NoError(t, s.Check("form_pets_hamster"))
			require.NoError(t, s.Choose("Female"))
			require.NoError(t, s.Select("English", "Locale"))
			require.NoError(t, s.Select("Norway", "form_region"))
			require.NoError(t, s.ClickButton("awesome"))

			body, err := s.Body()
			require.NoError(t, err)
			res, err := testapp.ParseResults(body)
			require.NoError(t, err)
			assert.Equal(t, map[string][]string{
				"first_name":  {"John"},
				"password":    {"seeekrit"},
				"token":       {"12345"},
				"awesome":     {"awesome"},
				"gender":      {"female"},
				"pets":        {"dog", "hamster"},
				"description": {"Descriptive text goes here"},
				"locale":      {"en"},
				"region":      {"Norway"},
				"city":        {"London"},
			}, res)
		})
	}
}

func TestSessionFillInRoundTrip(t *testing.T) {
	t.Parallel()

	for _, driver := range testDrivers(t) {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			s := newTestSession(t, driver)
			require.NoError(t, s.Visit("/form"))
			require.NoError(t, s.FillIn("First Name", "Harry"))
			require.NoError(t, s.ClickButton("med"))

			body, err := s.Body()
			require.NoError(t, err)
			res, err := testapp.ParseResults(body)
			require.NoError(t, err)
			assert.Equal(t, map[string][]string{
				"middle_name": {"Darren"},
				"medium":      {"med"},
			}, res)

			require.NoError(t, s.Visit("/form"))
			require.NoError(t, s.FillIn("First Name", "Harry"))
			require.NoError(t, s.ClickButton("awe123"))
			body, err = s.Body()
			require.NoError(t, err)
			res, err = testapp.ParseResults(body)
			require.NoError(t, err)
			assert.Equal(t, []string{"Harry"}, res["first_name"])
		})
	}
}

func TestSessionFormInteractions(t *testing.T) {
	t.Parallel()

	image := filepath.Join(t.TempDir(), "portrait.jpg")
	require.NoError(t, os.WriteFile(image, []byte("jpeg"), 0o600))

	testCases := []struct {
		name  string
		act   func(s *Session) error
		check func(t *testing.T, driver string, res map[string][]string)
	}{
		{
			name: "image_button_by_value",
			act:  func(s *Session) error { return s.ClickButton("okay") },
			check: func(t *testing.T, driver string, res map[string][]string) {
				assert.Equal(t, []string{"John"}, res["first_name"])
				assert.NotContains(t, res, "awesome")
				if driver != DriverChromium {
					assert.Equal(t, []string{"okay"}, res["okay"])
				}
			},
		},
		{
			name: "image_button_by_id",
			act:  func(s *Session) error { return s.ClickButton("okay556") },
			check: func(t *testing.T, _ string, res map[string][]string) {
				assert.Equal(t, []string{"John"}, res["first_name"])
				assert.NotContains(t, res, "awesome")
			},
		},
		{
			name: "choose_by_label",
			act: func(s *Session) error {
				if err := s.Choose("Both"); err != nil {
					return err
				}
				return s.ClickButton("awesome")
			},
			check: func(t *testing.T, _ string, res map[string][]string) {
				assert.Equal(t, []string{"both"}, res["gender"])
			},
		},
		{
			name: "check_and_uncheck_by_label",
			act: func(s *Session) error {
				if err := s.Check("Cat"); err != nil {
					return err
				}
				if err := s.Uncheck("Hamster"); err != nil {
					return err
				}
				return s.ClickButton("awesome")
			},
			check: func(t *testing.T, _ string, res map[string][]string) {
				assert.Equal(t, []string{"dog", "cat"}, res["pets"])
			},
		},
		{
			name: "select_by_option_text",
			act: func(s *Session) error {
				if err := s.Select("Finish", "Locale"); err != nil {
					return err
				}
				return s.ClickButton("awesome")
			},
			check: func(t *testing.T, _ string, res map[string][]string) {
				assert.Equal(t, []string{"fi"}, res["locale"])
			},
		},
		{
			name: "attach_file_to_urlencoded_form",
			act: func(s *Session) error {
				if err := s.AttachFile("Image", image); err != nil {
					return err
				}
				return s.ClickButton("awesome")
			},
			check: func(t *testing.T, _ string, res map[string][]string) {
				assert.Equal(t, []string{"portrait.jpg"}, res["image"])
			},
		},
	}

	for _, driver := range testDrivers(t) {
		driver := driver
		for _, tc := range testCases {
			tc := tc
			t.Run(driver+"/"+tc.name, func(t *testing.T) {
				t.Parallel()

				s := newTestSession(t, driver)
				require.NoError(t, s.Visit("/form"))
				require.NoError(t, tc.act(s))

				body, err := s.Body()
				require.NoError(t, err)
				res, err := testapp.ParseResults(body)
				require.NoError(t, err)
				tc.check(t, driver, res)
			})
		}
	}
}

func TestSessionHasContent(t *testing.T) {
	t.Parallel()

	for _, driver := range testDrivers(t) {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			s := newTestSession(t, driver)
			require.NoError(t, s.Visit("/with_html"))

			ok, err := s.HasContent("This is a test")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.HasContent("Nothing like this")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = s.HasContent("<h1>")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSessionClickButtonSkipsNonSubmitButtons(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><form action="/done" method="get">
<input type="reset" value="Save draft">
<button type="button">Save preview</button>
<input type="submit" name="go" value="Save">
</form></body></html>`)
	})
	mux.HandleFunc("/done", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html><body><p>submitted "+r.URL.Query().Get("go")+"</p></body></html>")
	})

	s := New(context.Background(), DriverReplay, mux)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Visit("/"))
	require.NoError(t, s.ClickButton("Save"))

	u, err := s.CurrentURL()
	require.NoError(t, err)
	assert.Equal(t, "http://www.example.com/done?go=Save", u)
	ok, err := s.HasContent("submitted Save")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Visit("/"))
	require.ErrorIs(t, s.ClickButton("preview"), common.ErrElementNotFound)
}

func TestSessionLinks(t *testing.T) {
	t.Parallel()

	for _, driver := range testDrivers(t) {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			s := newTestSession(t, driver)
			var urls []string
			for _, locator := range []string{"everything", "every strat", "every strategy"} {
				require.NoError(t, s.Visit("/with_html"))
				require.NoError(t, s.ClickLink(locator), locator)
				u, err := s.CurrentURL()
				require.NoError(t, err)
				urls = append(urls, u)
			}
			assert.True(t, strings.HasSuffix(urls[0], "/with_simple_html"), urls[0])
			assert.Equal(t, urls[0], urls[1])
			assert.Equal(t, urls[0], urls[2])

			require.NoError(t, s.Visit("/with_html"))
			err := s.ClickLink("no such link")
			require.ErrorIs(t, err, common.ErrElementNotFound)
			var enf *common.ElementNotFoundError
			require.ErrorAs(t, err, &enf)
			assert.Equal(t, common.KindLink, enf.Kind)
		})
	}
}

func TestSessionRedirects(t *testing.T) {
	t.Parallel()

	for _, driver := range testDrivers(t) {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			s := newTestSession(t, driver)
			require.NoError(t, s.Visit("/with_html"))
			require.NoError(t, s.ClickLink("Redirect"))
			u, err := s.CurrentURL()
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(u, "/landed"), u)

			require.NoError(t, s.Visit("/form"))
			require.NoError(t, s.ClickButton("Go FAR"))
			ok, err := s.HasContent("You landed")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestSessionWithin(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, DriverReplay)
	require.NoError(t, s.Visit("/with_html"))

	err := s.Within("#second", func() error {
		return s.ClickLink("ullamco")
	})
	require.ErrorIs(t, err, common.ErrElementNotFound)

	err = s.Within("#first", func() error {
		return s.ClickLink("ullamco")
	})
	require.NoError(t, err)
	ok, err := s.HasContent("Another World")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Visit("/form"))
	err = s.Within(`form[action="/upload"]`, func() error {
		els, err := s.FindAll("input")
		if err != nil {
			return err
		}
		assert.Len(t, els, 2)
		return nil
	})
	require.NoError(t, err)

	els, err := s.FindAll("form")
	require.NoError(t, err)
	assert.Len(t, els, 5)

	_, err = s.Find("#nope")
	require.ErrorIs(t, err, common.ErrElementNotFound)
}

func TestSessionWithinNavigation(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, DriverReplay)
	require.NoError(t, s.Visit("/with_html"))

	err := s.Within("#first", func() error {
		// The scope selector matches nothing on the form page.
		if err := s.Visit("/form"); err != nil {
			return err
		}
		return s.FillIn("First Name", "Harry")
	})
	require.ErrorIs(t, err, common.ErrElementNotFound)
	assert.Contains(t, err.Error(), "#first")

	err = s.Within("form", func() error {
		if err := s.Visit("/with_html"); err != nil {
			return err
		}
		return s.ClickLink("ullamco")
	})
	require.ErrorIs(t, err, common.ErrElementNotFound)

	err = s.Within("p.para", func() error {
		return s.Within("a.simple", func() error {
			_, err := s.Find("a")
			return err
		})
	})
	require.ErrorIs(t, err, common.ErrElementNotFound)

	require.NoError(t, s.ClickLink("ullamco"))
	ok, err := s.HasContent("Another World")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionStatusCode(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{DriverReplay, DriverBridge} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			s := newTestSession(t, driver)
			require.NoError(t, s.Visit("/"))
			code, err := s.StatusCode()
			require.NoError(t, err)
			assert.Equal(t, 200, code)

			require.NoError(t, s.Visit("/missing"))
			code, err = s.StatusCode()
			require.NoError(t, err)
			assert.Equal(t, 404, code)
		})
	}
}

func TestSessionUpload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test_file.txt")
	require.NoError(t, os.WriteFile(path, []byte("File content"), 0o600))

	for _, driver := range testDrivers(t) {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			s := newTestSession(t, driver)
			require.NoError(t, s.Visit("/form"))
			require.NoError(t, s.AttachFile("Document", path))
			require.NoError(t, s.ClickButton("Upload"))

			ok, err := s.HasContent("File content")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.HasContent("test_file.txt")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestSessionSavePage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newTestSession(t, DriverReplay, WithFilePersister(&storage.LocalFilePersister{Root: dir}))
	require.NoError(t, s.Visit("/"))
	require.NoError(t, s.SavePage("pages/index.html"))

	b, err := os.ReadFile(filepath.Join(dir, "pages", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "Hello world!")
}

func TestSessionClose(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, DriverBridge)
	require.NoError(t, s.Visit("/"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Driver()
	require.Error(t, err)
	require.Error(t, s.Visit("/"))

	unused := New(context.Background(), DriverReplay, testapp.New())
	require.NoError(t, unused.Close())
	_, err = unused.Driver()
	require.Error(t, err)
}
