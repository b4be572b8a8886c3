package chromium

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grafana/webcat/common"
)

// ExecutablePath returns the first browser executable found on this
// machine, or an empty string.
func ExecutablePath() string {
	for _, path := range [...]string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",

		// Windows
		"chrome",
		"chrome.exe", // in case PATHEXT is misconfigured
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		filepath.Join(os.Getenv("USERPROFILE"), `AppData\Local\Google\Chrome\Application\chrome.exe`),

		// Mac
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	} {
		if _, err := exec.LookPath(path); err == nil {
			return path
		}
	}

	return ""
}

// prepareFlags returns the command line flags of a browser launch,
// overlaid with the user args.
func prepareFlags(headless bool, userDataDir string, args []string) map[string]any {
	// After Puppeteer's and Playwright's default behavior.
	f := map[string]any{
		"disable-background-networking":                      true,
		"enable-features":                                    "NetworkService,NetworkServiceInProcess",
		"disable-background-timer-throttling":                true,
		"disable-backgrounding-occluded-windows":             true,
		"disable-breakpad":                                   true,
		"disable-component-extensions-with-background-pages": true,
		"disable-default-apps":                               true,
		"disable-dev-shm-usage":                              true,
		"disable-extensions":                                 true,
		"disable-hang-monitor":                               true,
		"disable-ipc-flooding-protection":                    true,
		"disable-popup-blocking":                             true,
		"disable-prompt-on-repost":                           true,
		"disable-renderer-backgrounding":                     true,
		"force-color-profile":                                "srgb",
		"metrics-recording-only":                             true,
		"no-first-run":                                       true,
		"enable-automation":                                  true,
		"password-store":                                     "basic",
		"use-mock-keychain":                                  true,
		"no-service-autorun":                                 true,
		"no-startup-window":                                  true,
		"no-default-browser-check":                           true,
		"headless":                                           headless,
		"window-size":                                        "800,600",
		"user-data-dir":                                      userDataDir,
	}
	if headless {
		f["hide-scrollbars"] = true
		f["mute-audio"] = true
	}
	setFlagsFromArgs(f, args)

	return f
}

// setFlagsFromArgs fills flags from "name=value" or "name" args.
// A "no-" prefixed name without value removes the flag it negates.
func setFlagsFromArgs(flags map[string]any, args []string) {
	for _, arg := range args {
		pair := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(strings.TrimSpace(pair[0]), "--")
		if name == "" {
			continue
		}
		if len(pair) == 1 {
			if _, ok := flags[strings.TrimPrefix(name, "no-")]; ok && strings.HasPrefix(name, "no-") {
				delete(flags, strings.TrimPrefix(name, "no-"))
				continue
			}
			flags[name] = true
			continue
		}
		flags[name] = common.TrimQuotes(strings.TrimSpace(pair[1]))
	}
}

// parseArgs turns flags into sorted command line arguments.
func parseArgs(flags map[string]any) ([]string, error) {
	args := make([]string, 0, len(flags)+1)
	for name, value := range flags {
		switch value := value.(type) {
		case string:
			args = append(args, fmt.Sprintf("--%s=%s", name, value))
		case bool:
			if value {
				args = append(args, fmt.Sprintf("--%s", name))
			}
		default:
			return nil, fmt.Errorf(`invalid browser command line flag: "%s=%v"`, name, value)
		}
	}
	if _, ok := flags["remote-debugging-port"]; !ok {
		args = append(args, "--remote-debugging-port=0")
	}
	sort.Strings(args)

	return args, nil
}
