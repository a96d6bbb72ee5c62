package pathlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertEmpty(assert *assert.Assertions, locker *Locker) {
	locker.m.Range(func(k, v any) bool {
		_ = assert.Failf("remaining entry",
			"%q = %d", k.(string), v.(*counter).value.Load())
		return true
	})
}

func TestKey(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("", Key(""))
	assert.Equal("", Key(`.\`))
	assert.Equal(`A\B\C`, Key(`a\b\c`))
	assert.Equal(`A\B\C`, Key(`\a/B\\c\`))
	assert.Equal(`A\C`, Key(`.\a\b\..\c`))
	assert.Equal("", Key(`..\..`))
}

func TestRoot(t *testing.T) {
	assert := assert.New(t)
	locker := &Locker{}
	defer assertEmpty(assert, locker)
	root := locker.Shared("")
	assert.NotNil(root)
	root.Unlock()
	assert.Nil(locker.Exclusive(""))
	assert.Nil(locker.Exclusive(`.\`))
}

func TestSharedExclusive(t *testing.T) {
	assert := assert.New(t)
	locker := &Locker{}
	defer assertEmpty(assert, locker)

	lockABC := locker.Shared(`a\b\c`)
	assert.NotNil(lockABC)
	defer lockABC.Unlock()

	// Sharing is unlimited and case insensitive.
	lockABC2 := locker.Shared(`A\B\C`)
	assert.NotNil(lockABC2)
	defer lockABC2.Unlock()

	assert.Nil(locker.Exclusive(`a\b\c`))
	assert.Nil(locker.Exclusive(`a\B`))
	assert.Nil(locker.Exclusive(`A`))

	lockABCD := locker.Exclusive(`a\b\c\d`)
	assert.NotNil(lockABCD)
	defer lockABCD.Unlock()
	assert.True(lockABCD.IsExclusive())

	lockAC := locker.Exclusive(`a/b/../c`)
	assert.NotNil(lockAC)
	defer lockAC.Unlock()
	assert.Equal(`a/b/../c`, lockAC.Path())

	assert.Nil(locker.Exclusive(`a\c`))
	assert.Nil(locker.Shared(`a\c`))
	assert.Nil(locker.Shared(`A\C\d`))
}

func TestDowngrade(t *testing.T) {
	assert := assert.New(t)
	locker := &Locker{}
	defer assertEmpty(assert, locker)

	lock := locker.Exclusive(`x\y`)
	assert.NotNil(lock)
	assert.Nil(locker.Shared(`x\y`))
	lock.Downgrade()
	assert.False(lock.IsExclusive())
	shared := locker.Shared(`x\y`)
	assert.NotNil(shared)
	shared.Unlock()
	lock.Unlock()

	// Unlocking twice is harmless.
	lock.Unlock()
	again := locker.Exclusive(`x\y`)
	assert.NotNil(again)
	again.Unlock()
}
