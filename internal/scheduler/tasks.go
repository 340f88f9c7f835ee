package scheduler

import (
	"context"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/rs/zerolog/log"
)

// NewOrphanGCTask returns a Task that removes driver-managed sandboxes
// left in StateError, catching containers whose owning process died
// mid-lifecycle. It is registered by internal/cli's serve command with its
// concrete driver, since the registry itself carries no driver dependency.
func NewOrphanGCTask(drv driver.Driver) Task {
	return func(ctx context.Context) error {
		infos, err := drv.List(ctx, []driver.SandboxState{driver.StateError})
		if err != nil {
			return err
		}
		for _, info := range infos {
			if err := drv.Stop(ctx, info.ID); err != nil {
				log.Warn().Err(err).Str("sandbox_id", info.ID).Msg("orphan gc: failed to stop sandbox")
			}
		}
		return nil
	}
}

// OrphanGCInterval is how often the orphan collector sweeps.
const OrphanGCInterval = 30 * time.Second
