package chromium

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/grafana/webcat/browserprocess"
	"github.com/grafana/webcat/log"
	"github.com/grafana/webcat/storage"
)

// process is a browser started by the driver.
type process struct {
	cmd   *exec.Cmd
	done  chan struct{}
	wsURL string
}

// launch starts the browser at path and waits until it exposes its CDP
// endpoint. The data directory is cleaned up when the process exits.
func launch(
	ctx context.Context, path string, args []string, dataDir *storage.Dir, timeout time.Duration,
	logger *log.Logger,
) (*process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	killAfterParent(cmd)

	// We must start the cmd before calling cmd.Wait, as otherwise the two
	// can run into a data race.
	err := cmd.Start()
	if err != nil {
		_ = dataDir.Cleanup()
	}
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("starting browser: %w", err)
	}
	pid := cmd.Process.Pid
	browserprocess.Register(ctx, logger, pid)
	logger.Debugf("chromium:launch", "started pid:%d path:%q", pid, path)

	p := process{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		defer func() {
			browserprocess.Unregister(pid)
			if err := dataDir.Cleanup(); err != nil {
				logger.Errorf("chromium:launch", "cleaning up the user data directory: %v", err)
			}
			close(p.done)
		}()

		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			logger.Debugf("chromium:launch", "process with pid %d ended: %v", pid, err)
		}
	}()

	p.wsURL, err = getDevToolsURL(dataDir.Dir, timeout, p.done)
	if err != nil {
		p.kill()
		return nil, fmt.Errorf("getting DevTools URL: %w", err)
	}

	return &p, nil
}

// kill stops the process and waits for it to exit.
func (p *process) kill() {
	_ = p.cmd.Process.Kill()
	<-p.done
}

// wait waits for the process to exit on its own for up to d, then kills it.
func (p *process) wait(d time.Duration) {
	select {
	case <-p.done:
	case <-time.After(d):
		p.kill()
	}
}

// getDevToolsURL returns the DevTools WebSocket address by reading the
// DevToolsActivePort file in the data directory.
func getDevToolsURL(dataDir string, timeout time.Duration, exited <-chan struct{}) (string, error) {
	const readAttemptDelay = 50 * time.Millisecond

	fpath := filepath.Join(dataDir, "DevToolsActivePort")
	deadline := time.Now().Add(timeout)

	// The browser might not have created or written the file yet, so keep
	// reading it until it holds both the port and the path.
	for {
		lines, err := readLines(fpath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("reading %q: %w", fpath, err)
		}
		if len(lines) >= 2 {
			return fmt.Sprintf("ws://127.0.0.1:%s%s", lines[0], lines[1]), nil
		}

		select {
		case <-exited:
			return "", errors.New("browser exited before exposing its DevTools endpoint")
		default:
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("unable to read file %q in %s", fpath, timeout)
		}
		time.Sleep(readAttemptDelay)
	}
}

func readLines(path string) (lines []string, rerr error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = err
		}
	}()

	fs := bufio.NewScanner(f)
	for fs.Scan() {
		lines = append(lines, fs.Text())
	}
	return lines, fs.Err() //nolint:wrapcheck
}
