package cmn

import (
	"time"

	"github.com/golang/glog"
)

// RetryArgs mirrors the teacher's NetworkCallWithRetry idiom (etl/dp.go):
// a small number of soft (logged, backed-off, retried) errors tolerated
// before the call is treated as a hard failure and retried a further
// HardErr times with no logging or backoff before finally giving up. Used
// by ProxyTemplateTable's pull-clone path to retry a GUID_METADATA_CLONE
// request across a flaky comm layer without involving the blocking
// MONITOR_PROGRESS machinery.
type RetryArgs struct {
	Call    func() error
	Action  string
	SoftErr int
	HardErr int
	Sleep   time.Duration
	BackOff bool
}

// NetworkCallWithRetry runs args.Call, retrying up to args.SoftErr times
// (logged, with optional backoff) before falling back to args.HardErr
// further bare retries -- no log line, no sleep, since by that point the
// call is already being treated as a hard failure and the only question
// left is whether one more attempt happens to land. It never retries a
// context-style cancellation; those are not used on this path (outbound
// blocking core operations do not support cancellation per the concurrency
// model).
func NetworkCallWithRetry(args *RetryArgs) error {
	var (
		err   error
		sleep = args.Sleep
	)
	for attempt := 0; attempt < args.SoftErr; attempt++ {
		err = args.Call()
		if err == nil {
			return nil
		}
		glog.Warningf("%s: soft attempt %d failed: %v, retrying", args.Action, attempt+1, err)
		if sleep > 0 {
			time.Sleep(sleep)
			if args.BackOff {
				sleep *= 2
			}
		}
	}
	for attempt := 0; attempt < args.HardErr; attempt++ {
		err = args.Call()
		if err == nil {
			return nil
		}
	}
	return err
}
