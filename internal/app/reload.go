package app

import (
	"context"
	"strings"

	"mintwatch/internal/config"
	logx "mintwatch/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig applies the sections that support live changes and reports the
// rest as needing a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	a.sd.Reloading()
	defer a.sd.Ready("")

	changed, attrs, restart := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogging(next))
	a.hub.Apply(mapBroadcast(next))

	wasEnabled := a.relay.Enabled()
	ncfg := mapNotifier(next)
	a.relay.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("relay disabled via config")
		a.stopRelay(ctx)
	case !wasEnabled && ncfg.Enabled:
		if a.bot == nil {
			a.log.Warn("relay enabled without bot token; ignored")
			break
		}
		a.log.Info("relay enabled via config")
		a.startRelay(a.sup.Context())
	}

	a.report.Apply(mapReport(next))

	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
