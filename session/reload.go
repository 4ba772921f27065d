package session

import "sync/atomic"

// ReloadFlag records that the module file changed during a watch session.
// It is shared by the supervisor and every FileWatcher it starts.
type ReloadFlag struct {
	v atomic.Bool
}

func (f *ReloadFlag) Set()        { f.v.Store(true) }
func (f *ReloadFlag) IsSet() bool { return f.v.Load() }
func (f *ReloadFlag) Clear()      { f.v.Store(false) }
