//go:build !unix

package ledger

const LockFileName = "relayjournal.lock"

// DirLock is a no-op where flock is unavailable.
type DirLock struct{}

func AcquireDirLock(dir string) (*DirLock, error) {
	return &DirLock{}, nil
}

func (l *DirLock) Release() error {
	return nil
}
