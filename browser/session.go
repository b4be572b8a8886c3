// Package browser provides the Session, the single entry point test code
// drives an application through, and the registry of drivers backing it.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/common"
	"github.com/grafana/webcat/config"
	"github.com/grafana/webcat/log"
	"github.com/grafana/webcat/storage"
)

// Option customizes a Session.
type Option func(*Session)

// WithConfig sets the configuration handed to the driver factory.
func WithConfig(cfg config.Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithLogger sets the logger used by the session and its driver.
func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithFilePersister sets where SavePage writes pages.
func WithFilePersister(fp storage.FilePersister) Option {
	return func(s *Session) {
		s.persister = fp
	}
}

// Session drives one application through one driver.
// A Session is not safe for concurrent use.
type Session struct {
	ctx       context.Context
	name      string
	target    any
	cfg       config.Config
	logger    *log.Logger
	persister storage.FilePersister

	once      sync.Once
	driver    api.Driver
	driverErr error
	resolver  *common.Resolver

	// within holds the selectors of nested Within calls, outermost first.
	within []string
	closed bool
}

// New returns a session that drives target through the driver registered
// as name. The driver is looked up and started on first use.
func New(ctx context.Context, name string, target any, opts ...Option) *Session {
	s := Session{
		ctx:       ctx,
		name:      name,
		target:    target,
		cfg:       config.NewConfig(),
		logger:    log.NewNullLogger(),
		persister: &storage.LocalFilePersister{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s
}

// Driver returns the session driver, starting it on the first call.
// It fails with a *common.DriverNotFoundError when no driver is registered
// under the session driver name.
func (s *Session) Driver() (api.Driver, error) {
	s.once.Do(func() {
		factory, ok := Lookup(s.name)
		if !ok {
			s.driverErr = &common.DriverNotFoundError{Name: s.name}
			return
		}
		order, err := common.ParseResolveOrder(s.cfg.LocatorOrder.String)
		if err != nil {
			s.driverErr = err
			return
		}
		s.logger.Debugf("Session:Driver", "starting driver:%q", s.name)
		drv, err := factory(s.ctx, s.target, s.cfg, s.logger)
		if err != nil {
			s.driverErr = fmt.Errorf("starting %s driver: %w", s.name, err)
			return
		}
		s.driver = drv
		s.resolver = common.NewResolver(func(scope api.ElementHandle, selector string) ([]api.ElementHandle, error) {
			return drv.Find(s.ctx, scope, selector)
		}, order, s.logger)
	})
	if s.closed {
		return nil, fmt.Errorf("session using the %s driver is closed", s.name)
	}
	return s.driver, s.driverErr
}

// Document returns the current document snapshot.
func (s *Session) Document() (api.Document, error) {
	drv, err := s.Driver()
	if err != nil {
		return nil, err
	}
	return drv.Document(s.ctx)
}

// Visit navigates to path.
func (s *Session) Visit(path string) error {
	s.logger.Debugf("Session:Visit", "path:%q", path)

	drv, err := s.Driver()
	if err != nil {
		return err
	}
	if err := drv.Visit(s.ctx, path); err != nil {
		return fmt.Errorf("visiting %q: %w", path, err)
	}
	return s.refresh()
}

// ClickLink clicks the link designated by locator.
func (s *Session) ClickLink(locator string) error {
	s.logger.Debugf("Session:ClickLink", "locator:%q", locator)

	drv, el, err := s.resolve(common.KindLink, locator)
	if err != nil {
		return err
	}
	if err := drv.Click(s.ctx, el); err != nil {
		return fmt.Errorf("clicking link %q: %w", locator, err)
	}
	return s.refresh()
}

// ClickButton clicks the button designated by locator. Submit buttons
// submit their form with their own name and value.
func (s *Session) ClickButton(locator string) error {
	s.logger.Debugf("Session:ClickButton", "locator:%q", locator)

	drv, el, err := s.resolve(common.KindButton, locator)
	if err != nil {
		return err
	}
	form, ok := el.Form()
	switch t := el.Type(); {
	case ok && (t == "submit" || t == "image") && !el.IsDisabled():
		err = drv.Submit(s.ctx, form, el)
	default:
		err = drv.Click(s.ctx, el)
	}
	if err != nil {
		return fmt.Errorf("clicking button %q: %w", locator, err)
	}
	return s.refresh()
}

// FillIn sets the value of the text field designated by locator.
func (s *Session) FillIn(locator, value string) error {
	s.logger.Debugf("Session:FillIn", "locator:%q value:%q", locator, value)

	drv, el, err := s.resolve(common.KindField, locator)
	if err != nil {
		return err
	}
	if err := drv.SetValue(s.ctx, el, value); err != nil {
		return fmt.Errorf("filling in %q: %w", locator, err)
	}
	return s.refresh()
}

// Choose selects the radio button designated by locator.
func (s *Session) Choose(locator string) error {
	s.logger.Debugf("Session:Choose", "locator:%q", locator)
	return s.setChecked(common.KindRadio, locator, true)
}

// Check checks the checkbox designated by locator.
func (s *Session) Check(locator string) error {
	s.logger.Debugf("Session:Check", "locator:%q", locator)
	return s.setChecked(common.KindCheckbox, locator, true)
}

// Uncheck unchecks the checkbox designated by locator.
func (s *Session) Uncheck(locator string) error {
	s.logger.Debugf("Session:Uncheck", "locator:%q", locator)
	return s.setChecked(common.KindCheckbox, locator, false)
}

func (s *Session) setChecked(kind common.ElementKind, locator string, checked bool) error {
	drv, el, err := s.resolve(kind, locator)
	if err != nil {
		return err
	}
	if err := drv.SetChecked(s.ctx, el, checked); err != nil {
		return fmt.Errorf("setting %s %q checked=%t: %w", kind, locator, checked, err)
	}
	return s.refresh()
}

// Select selects the option with text option in the select box designated
// by from.
func (s *Session) Select(option, from string) error {
	s.logger.Debugf("Session:Select", "option:%q from:%q", option, from)

	drv, sel, err := s.resolve(common.KindSelect, from)
	if err != nil {
		return err
	}
	opt, err := s.resolver.ResolveOption(sel, option)
	if err != nil {
		return err
	}
	if err := drv.SetSelected(s.ctx, opt, true); err != nil {
		return fmt.Errorf("selecting %q from %q: %w", option, from, err)
	}
	return s.refresh()
}

// AttachFile attaches the file at path to the file field designated by
// locator.
func (s *Session) AttachFile(locator, path string) error {
	s.logger.Debugf("Session:AttachFile", "locator:%q path:%q", locator, path)

	drv, el, err := s.resolve(common.KindFile, locator)
	if err != nil {
		return err
	}
	if err := drv.AttachFile(s.ctx, el, path); err != nil {
		return fmt.Errorf("attaching %q to %q: %w", path, locator, err)
	}
	return s.refresh()
}

// HasContent reports whether the rendered text of the current document
// contains text.
func (s *Session) HasContent(text string) (bool, error) {
	doc, err := s.Document()
	if err != nil {
		return false, err
	}
	return strings.Contains(doc.Text(), common.NormalizeSpace(text)), nil
}

// Body returns the markup of the current document.
func (s *Session) Body() (string, error) {
	doc, err := s.Document()
	if err != nil {
		return "", err
	}
	return doc.Body(), nil
}

// CurrentURL returns the URL of the current document.
func (s *Session) CurrentURL() (string, error) {
	drv, err := s.Driver()
	if err != nil {
		return "", err
	}
	return drv.CurrentURL(s.ctx)
}

// StatusCode returns the HTTP status of the last response, when the driver
// exposes it.
func (s *Session) StatusCode() (int, error) {
	drv, err := s.Driver()
	if err != nil {
		return 0, err
	}
	if o, ok := drv.(interface{ unwrap() api.Driver }); ok {
		drv = o.unwrap()
	}
	sc, ok := drv.(interface{ StatusCode() int })
	if !ok {
		return 0, fmt.Errorf("the %s driver does not report status codes", s.name)
	}
	return sc.StatusCode(), nil
}

// Find returns the first element matching a CSS selector.
func (s *Session) Find(selector string) (api.ElementHandle, error) {
	if _, err := s.Driver(); err != nil {
		return nil, err
	}
	scope, err := s.scope()
	if err != nil {
		return nil, err
	}
	return s.resolver.ResolveSelector(scope, selector)
}

// FindAll returns the elements matching a CSS selector.
func (s *Session) FindAll(selector string) ([]api.ElementHandle, error) {
	drv, err := s.Driver()
	if err != nil {
		return nil, err
	}
	scope, err := s.scope()
	if err != nil {
		return nil, err
	}
	return drv.Find(s.ctx, scope, selector)
}

// Within runs fn with locators resolved below the first element matching
// selector. Calls nest. The selector is resolved again for every lookup, so
// after a navigation it designates the matching element of the new page.
func (s *Session) Within(selector string, fn func() error) error {
	el, err := s.Find(selector)
	if err != nil {
		return err
	}
	s.logger.Debugf("Session:Within", "scope:%s", el)

	prev := s.within
	s.within = append(prev[:len(prev):len(prev)], selector)
	defer func() { s.within = prev }()

	return fn()
}

// SavePage writes the markup of the current document to path.
func (s *Session) SavePage(path string) error {
	body, err := s.Body()
	if err != nil {
		return err
	}
	if err := s.persister.Persist(s.ctx, path, bytes.NewBufferString(body)); err != nil {
		return fmt.Errorf("saving page: %w", err)
	}
	return nil
}

// Close stops the driver. The session cannot be used afterwards.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	// A session closed before first use never starts its driver.
	s.once.Do(func() {})
	s.closed = true
	if s.driver == nil {
		return nil
	}
	s.logger.Debugf("Session:Close", "driver:%q", s.name)
	if err := s.driver.Close(); err != nil {
		return fmt.Errorf("closing %s driver: %w", s.name, err)
	}
	return nil
}

// resolve finds the element of kind designated by locator in the current
// scope.
func (s *Session) resolve(kind common.ElementKind, locator string) (api.Driver, api.ElementHandle, error) {
	drv, err := s.Driver()
	if err != nil {
		return nil, nil, err
	}
	scope, err := s.scope()
	if err != nil {
		return nil, nil, err
	}
	el, err := s.resolver.Resolve(scope, common.Locator{Kind: kind, Value: locator})
	if err != nil {
		return nil, nil, err
	}
	return drv, el, nil
}

// scope returns the element searches start from in the current document.
func (s *Session) scope() (api.ElementHandle, error) {
	doc, err := s.Document()
	if err != nil {
		return nil, err
	}
	scope := doc.Root()
	for _, selector := range s.within {
		if scope, err = s.resolver.ResolveSelector(scope, selector); err != nil {
			return nil, fmt.Errorf("resolving scope in %s: %w", doc.URL(), err)
		}
	}
	return scope, nil
}

func (s *Session) refresh() error {
	_, err := s.Document()
	return err
}
