package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "bongobot/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Every call is a no-op when
// the process is not started by systemd (NOTIFY_SOCKET unset).
type sdNotifier struct {
	log logx.Logger
}

func (n sdNotifier) notify(state string) {
	ok, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case ok:
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n sdNotifier) Ready()     { n.notify(daemon.SdNotifyReady) }
func (n sdNotifier) Stopping()  { n.notify(daemon.SdNotifyStopping) }
func (n sdNotifier) Reloading() { n.notify(daemon.SdNotifyReloading) }

// Watchdog pings systemd at half the configured WatchdogSec until ctx is done.
// It returns immediately when the watchdog is disabled.
func (n sdNotifier) Watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	every /= 2
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
