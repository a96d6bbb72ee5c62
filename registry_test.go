package projfs

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestRegistryRedraw(t *testing.T) {
	assert := assert.New(t)
	draws := []InstanceToken{0, 5, 0, 5, 5, 7}
	original := drawToken
	drawToken = func() InstanceToken {
		result := draws[0]
		draws = draws[1:]
		return result
	}
	defer func() { drawToken = original }()

	a := &VirtualizationInstance{}
	b := &VirtualizationInstance{}
	tokenA := registerInstance(a)
	defer unregisterInstance(tokenA)
	tokenB := registerInstance(b)
	defer unregisterInstance(tokenB)

	assert.Equal(InstanceToken(5), tokenA)
	assert.Equal(InstanceToken(7), tokenB)
	assert.Empty(draws)
	assert.Same(a, loadInstance(tokenA))
	assert.Same(b, loadInstance(tokenB))
}

func TestRegistryUnregister(t *testing.T) {
	assert := assert.New(t)
	inst := &VirtualizationInstance{}
	token := registerInstance(inst)
	assert.NotZero(token)
	assert.Same(inst, loadInstance(token))
	unregisterInstance(token)
	assert.Nil(loadInstance(token))
	assert.Nil(loadInstance(0))
}

func TestRegistryUnique(t *testing.T) {
	assert := assert.New(t)
	tokens := make(map[InstanceToken]struct{})
	for i := 0; i < 256; i++ {
		token := registerInstance(&VirtualizationInstance{})
		defer unregisterInstance(token)
		_, duplicated := tokens[token]
		assert.False(duplicated)
		tokens[token] = struct{}{}
	}
}

func TestRegistryConcurrentCollision(t *testing.T) {
	assert := assert.New(t)

	// Every other draw collides on the same token.
	var draws atomic.Uint32
	original := drawToken
	drawToken = func() InstanceToken {
		draw := draws.Add(1)
		if draw%2 == 1 {
			return 7
		}
		return InstanceToken(100 + draw)
	}
	defer func() { drawToken = original }()

	const count = 32
	instances := make([]*VirtualizationInstance, count)
	tokens := make([]InstanceToken, count)
	var group errgroup.Group
	for i := range instances {
		instances[i] = &VirtualizationInstance{}
		group.Go(func() error {
			tokens[i] = registerInstance(instances[i])
			return nil
		})
	}
	assert.NoError(group.Wait())
	defer func() {
		for _, token := range tokens {
			unregisterInstance(token)
		}
	}()

	seen := make(map[InstanceToken]struct{})
	for i, token := range tokens {
		_, duplicated := seen[token]
		assert.False(duplicated)
		seen[token] = struct{}{}
		assert.Same(instances[i], loadInstance(token))
	}
	assert.Contains(seen, InstanceToken(7))

	registrations := make(map[*VirtualizationInstance]int)
	instanceMap.Range(func(key, value any) bool {
		registrations[value.(*VirtualizationInstance)]++
		return true
	})
	for _, inst := range instances {
		assert.Equal(1, registrations[inst])
	}
}
