// Package lock provides mutexes with optional runtime deadlock detection.
// Detection is off by default since it adds overhead on every lock
// acquisition, set BITBUCKET_BACKUP_DEADLOCK_DETECTION to enable it.
package lock

import (
	"os"
	"time"

	"github.com/sasha-s/go-deadlock"
)

type Mutex = deadlock.Mutex

type RWMutex = deadlock.RWMutex

func init() {
	deadlock.Opts.Disable = os.Getenv("BITBUCKET_BACKUP_DEADLOCK_DETECTION") == ""
	deadlock.Opts.DeadlockTimeout = 5 * time.Minute
}
