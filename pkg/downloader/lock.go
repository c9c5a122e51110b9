package downloader

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// LockFileName is created inside the target directory while a run holds it.
// The file is left in place after unlock; only the lock itself matters.
const LockFileName = ".khinsider-dl.lock"

// lockTarget takes an exclusive, non-blocking lock on dir
func lockTarget(dir string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(dir, LockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrFilesystem, err, "lock '%s'", dir)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", utils.ErrTargetLocked, dir)
	}
	return fl, nil
}

func unlockTarget(fl *flock.Flock, log *logrus.Entry) {
	if err := fl.Unlock(); err != nil {
		log.Warnf("Failed to release lock '%s': %v", fl.Path(), err)
	}
}
