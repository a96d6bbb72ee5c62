package projfs

import (
	"math/rand/v2"
	"sync"
)

// instanceMap maps the InstanceToken to the running
// *VirtualizationInstance, it is the only way a callback
// arriving on the file system's thread finds its instance.
var instanceMap sync.Map

// drawToken draws a token candidate, replaced in tests.
var drawToken = func() InstanceToken {
	return InstanceToken(rand.Uint32())
}

// registerInstance places the instance under a freshly
// drawn token, redrawing the zero token and the ones that
// have been taken until the placement succeeds.
func registerInstance(inst *VirtualizationInstance) InstanceToken {
	for {
		token := drawToken()
		if token == 0 {
			continue
		}
		if _, loaded := instanceMap.LoadOrStore(
			token, inst); !loaded {
			return token
		}
	}
}

func unregisterInstance(token InstanceToken) {
	instanceMap.Delete(token)
}

func loadInstance(token InstanceToken) *VirtualizationInstance {
	value, ok := instanceMap.Load(token)
	if !ok {
		return nil
	}
	return value.(*VirtualizationInstance)
}
