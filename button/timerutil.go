// button/timerutil.go
package button

import "time"

// newStoppedTimer returns an AfterFunc timer that will not fire until
// it is Reset. Callbacks must re-check their arming flag under the
// button lock: Stop does not cancel a callback that has already fired
// and is waiting on the lock.
func newStoppedTimer(f func()) *time.Timer {
	t := time.AfterFunc(time.Hour, f)
	t.Stop()
	return t
}
