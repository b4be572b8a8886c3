// Package browserprocess keeps track of the browser processes started by
// drivers so they can be killed when their owner goes away abruptly.
package browserprocess

import (
	"context"
	"os"
	"sync"

	"github.com/grafana/webcat/log"
)

//nolint:gochecknoglobals
var (
	processRegister   = map[int]string{}
	processRegisterMu sync.Mutex
)

// Register records pid as owned by the session saved in ctx.
func Register(ctx context.Context, logger *log.Logger, pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	sID := GetSessionID(ctx)
	logger.Debugf("browserprocess:Register", "registered browser process pid:%d session:%q", pid, sID)

	processRegister[pid] = sID
}

// Unregister forgets pid after its process exited.
func Unregister(pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	delete(processRegister, pid)
}

// Registered returns the number of registered processes.
func Registered() int {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	return len(processRegister)
}

// ForceProcessShutdown kills the registered processes of the session saved
// in ctx, or all of them when ctx carries no session.
func ForceProcessShutdown(ctx context.Context) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	sID := GetSessionID(ctx)
	for pid, owner := range processRegister {
		if sID != "" && owner != sID {
			continue
		}
		Kill(pid)
		delete(processRegister, pid)
	}
}

// Kill looks for and kills the process with the given pid.
// Tests override it to keep processes alive.
var Kill = func(pid int) { //nolint:gochecknoglobals
	p, err := os.FindProcess(pid)
	if err != nil {
		// optimistically continue and don't kill the process
		return
	}
	// no need to check the error since we're already dying.
	_ = p.Kill()
	_ = p.Release()
}
