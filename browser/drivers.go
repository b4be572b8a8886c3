package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/grafana/webcat/api"
	"github.com/grafana/webcat/bridge"
	"github.com/grafana/webcat/chromium"
	"github.com/grafana/webcat/config"
	"github.com/grafana/webcat/log"
	"github.com/grafana/webcat/replay"
)

// Names of the drivers registered by default.
const (
	DriverReplay   = "replay"
	DriverChromium = "chromium"
	DriverBridge   = "bridge"
)

func init() {
	Register(DriverReplay, newReplayDriver)
	Register(DriverChromium, newChromiumDriver)
	Register(DriverBridge, newBridgeDriver)
}

func newReplayDriver(_ context.Context, target any, cfg config.Config, logger *log.Logger) (api.Driver, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	return replay.New(target, replay.Options{
		MaxRedirects: int(cfg.MaxRedirects.Int64),
		Host:         cfg.AppHost.String,
		Timeout:      timeout,
		Logger:       logger,
	})
}

func newChromiumDriver(ctx context.Context, target any, cfg config.Config, logger *log.Logger) (api.Driver, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	appURL, release, err := serveTarget(target)
	if err != nil {
		return nil, err
	}
	d, err := chromium.New(ctx, appURL, chromium.Options{
		ExecutablePath: cfg.ChromiumPath.String,
		Headless:       cfg.ChromiumHeadless.Bool,
		Args:           cfg.ChromiumArgs,
		WSURL:          cfg.ChromiumWSURL.String,
		Timeout:        timeout,
		Logger:         logger,
	})
	if err != nil {
		release()
		return nil, err
	}
	return &ownedDriver{Driver: d, release: release}, nil
}

func newBridgeDriver(ctx context.Context, target any, cfg config.Config, logger *log.Logger) (api.Driver, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	appURL, release, err := serveTarget(target)
	if err != nil {
		return nil, err
	}
	c, err := bridge.Dial(ctx, cfg.BridgeURL.String, bridge.Options{
		Target:  appURL,
		Timeout: timeout,
		Logger:  logger,
	})
	if err != nil {
		release()
		return nil, err
	}
	return &ownedDriver{Driver: c, release: release}, nil
}

// serveTarget returns the base URL of target, starting a local server for
// in-process handlers. Release stops that server.
func serveTarget(target any) (appURL string, release func(), err error) {
	switch t := target.(type) {
	case http.Handler:
		srv := httptest.NewServer(t)
		return srv.URL, srv.Close, nil
	case *url.URL:
		return t.String(), func() {}, nil
	case string:
		return t, func() {}, nil
	}
	return "", nil, fmt.Errorf("unsupported application target %T", target)
}

// ownedDriver releases resources started for its driver on Close.
type ownedDriver struct {
	api.Driver
	release func()
}

func (d *ownedDriver) Close() error {
	err := d.Driver.Close()
	d.release()
	return err
}

func (d *ownedDriver) unwrap() api.Driver {
	return d.Driver
}
