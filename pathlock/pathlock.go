// Package pathlock offers nonblocking locks over the paths
// relative to a virtualization root.
//
// A provider hydrating a file holds the shared lock of its
// path while it is writing the content, and a provider
// vetoing a deletion or a renaming attempts the exclusive
// lock, which fails when the path or any path under it is
// still being hydrated.
//
// Paths are backslash separated and compared case
// insensitively, the way the file system names them.
package pathlock

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// counter is the state of a path in the locker. The value
// 0 means exclusively locked, 1 means being released, and
// n > 1 means n-1 shared holders.
type counter struct {
	value atomic.Uintptr
}

var pool = &sync.Pool{
	New: func() any {
		return new(counter)
	},
}

// Locker is the locker center of the namespace under a
// virtualization root. The zero value is ready for use.
type Locker struct {
	m sync.Map
}

func (l *Locker) sharedRelease(key string) {
	obj, _ := l.m.Load(key)
	if obj.(*counter).value.Add(^uintptr(0)) == 1 {
		old, _ := l.m.LoadAndDelete(key)
		pool.Put(old)
	}
}

func (l *Locker) sharedAcquire(key string) bool {
	for {
		newer := pool.Get().(*counter)
		newer.value.Store(2)
		obj, loaded := l.m.LoadOrStore(key, newer)
		if !loaded {
			return true
		}
		pool.Put(newer)
		c := obj.(*counter)
		before := c.value.Load()
		switch before {
		case 0:
			return false
		case 1:
			// The last holder is removing the counter.
			runtime.Gosched()
			continue
		}
		if before+1 == 0 {
			return false
		}
		if c.value.CompareAndSwap(before, before+1) {
			return true
		}
		runtime.Gosched()
	}
}

func (l *Locker) exclusiveRelease(key string) {
	obj, _ := l.m.LoadAndDelete(key)
	pool.Put(obj)
}

func (l *Locker) exclusiveAcquire(key string) bool {
	for {
		newer := pool.Get().(*counter)
		newer.value.Store(0)
		obj, loaded := l.m.LoadOrStore(key, newer)
		if !loaded {
			return true
		}
		pool.Put(newer)
		if obj.(*counter).value.Load() != 1 {
			return false
		}
		runtime.Gosched()
	}
}

// parent returns the parent key, which is empty for the
// entries directly under the root.
func parent(key string) string {
	index := strings.LastIndexByte(key, '\\')
	if index < 0 {
		return ""
	}
	return key[:index]
}

func (l *Locker) sharedReleaseAll(key string) {
	for ; key != ""; key = parent(key) {
		l.sharedRelease(key)
	}
}

// sharedAcquireAll locks the key and all its ancestors,
// leaving nothing locked on failure.
func (l *Locker) sharedAcquireAll(key string) bool {
	if key == "" {
		return true
	}
	if !l.sharedAcquireAll(parent(key)) {
		return false
	}
	if !l.sharedAcquire(key) {
		l.sharedReleaseAll(parent(key))
		return false
	}
	return true
}

// Key normalizes the relative path into the form compared
// by the locker. Both slashes are accepted as separator,
// and the empty key designates the root.
func Key(p string) string {
	p = strings.ReplaceAll(p, "/", `\`)
	var parts []string
	for _, part := range strings.Split(p, `\`) {
		switch part {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, strings.ToUpper(part))
		}
	}
	return strings.Join(parts, `\`)
}

// Lock is the reference object held to release the lock.
type Lock struct {
	locker    *Locker
	path      string
	key       string
	exclusive bool
	free      sync.Once
}

func (l *Locker) newLock(path, key string, exclusive bool) *Lock {
	result := &Lock{
		locker:    l,
		path:      path,
		key:       key,
		exclusive: exclusive,
	}
	runtime.SetFinalizer(result, func(l *Lock) {
		l.Unlock()
	})
	return result
}

// Path returns the path as it was locked.
func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) IsExclusive() bool {
	return l.exclusive
}

// Downgrade turns an exclusive lock into a shared one
// without releasing it in between.
func (l *Lock) Downgrade() {
	if !l.exclusive {
		return
	}
	obj, _ := l.locker.m.Load(l.key)
	obj.(*counter).value.Store(2)
	l.exclusive = false
}

func (l *Lock) Unlock() {
	runtime.SetFinalizer(l, nil)
	l.free.Do(func() {
		if l.exclusive {
			l.locker.exclusiveRelease(l.key)
			l.locker.sharedReleaseAll(parent(l.key))
		} else {
			l.locker.sharedReleaseAll(l.key)
		}
	})
}

// Shared attempts to lock the path and its ancestors for
// sharing, nil is returned when any of them is exclusively
// locked.
func (l *Locker) Shared(p string) *Lock {
	key := Key(p)
	if !l.sharedAcquireAll(key) {
		return nil
	}
	return l.newLock(p, key, false)
}

// Exclusive attempts to lock the path exclusively, nil is
// returned when the path or anything under it is locked.
// The root cannot be locked exclusively.
func (l *Locker) Exclusive(p string) *Lock {
	key := Key(p)
	if key == "" {
		return nil
	}
	if !l.sharedAcquireAll(parent(key)) {
		return nil
	}
	if !l.exclusiveAcquire(key) {
		l.sharedReleaseAll(parent(key))
		return nil
	}
	return l.newLock(p, key, true)
}
