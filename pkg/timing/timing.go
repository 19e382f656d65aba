// Package timing provides a debug-only timing helper mirroring
// original_source/connaisseur/debug_timer.py's start/stop decorator.
// It never affects control flow, only what gets logged at debug level.
package timing

import (
	"context"
	"time"

	"github.com/sse-secure-systems/connaisseur/pkg/logging"
)

// Track logs, at debug level, how long the caller's deferred scope took
// under name. Usage:
//
//	defer timing.Track(ctx, "alice-image_process_chain")()
func Track(ctx context.Context, name string) func() {
	start := time.Now()
	return func() {
		logging.FromContext(ctx).Debugf("%s took %s", name, time.Since(start))
	}
}
