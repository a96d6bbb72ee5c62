//go:build windows && (amd64 || arm64)

package projfs

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestLoadCallbacks(t *testing.T) {
	assert := assert.New(t)
	inst := &VirtualizationInstance{
		ref: &providerRef{callbacks: &Callbacks{}},
	}
	token := registerInstance(inst)

	native := &PRJ_CALLBACK_DATA{
		CommandId:       1,
		InstanceContext: uintptr(token),
	}
	callbacks, data := loadCallbacks(uintptr(unsafe.Pointer(native)))
	assert.Same(inst.ref.callbacks, callbacks)
	assert.Same(native, data)

	// Callbacks of an unregistered instance are not found.
	unregisterInstance(token)
	callbacks, _ = loadCallbacks(uintptr(unsafe.Pointer(native)))
	assert.Nil(callbacks)
}
