package projfs_test

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"

	"github.com/aegistudio/go-projfs"
	"github.com/aegistudio/go-projfs/projfstest"
)

func enumerate(
	driver *projfstest.Driver, commandID projfs.CommandID,
	enumerationID uuid.UUID, filter *string, restart bool, capacity int,
) (projfs.HResult, []string) {
	data := driver.CallbackData(commandID, "")
	if restart {
		data.Flags |= projfs.CallbackRestartScan
	}
	var searchExpression []uint16
	if filter != nil {
		searchExpression = projfs.EncodeUTF16(*filter)
	}
	handle := driver.NewBuffer(capacity)
	status := driver.Callbacks().GetDirectoryEnumeration(
		data, enumerationID, searchExpression, handle)
	return status, driver.Names(handle)
}

func stringPtr(s string) *string {
	return &s
}

func TestEnumerationFill(t *testing.T) {
	assert := assert.New(t)
	var entries []projfs.DirectoryEntry
	var names []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("f%d", i)
		names = append(names, name)
		entries = append(entries, projfs.DirectoryEntry{Name: name, Size: 1})
	}
	rand.New(rand.NewPCG(42, 42)).Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	driver := projfstest.New()
	inst := startInstance(t, driver, &testProvider{
		entries: map[string][]projfs.DirectoryEntry{"": entries},
	})
	defer inst.Stop()

	callbacks := driver.Callbacks()
	id := uuid.New()
	assert.Equal(projfs.Ok, callbacks.StartDirectoryEnumeration(
		driver.CallbackData(1, ""), id))
	status, got := enumerate(driver, 2, id, nil, false, 5)
	assert.Equal(projfs.Ok, status)
	assert.Equal(names[:5], got)
	status, got = enumerate(driver, 3, id, nil, false, 5)
	assert.Equal(projfs.Ok, status)
	assert.Equal(names[5:], got)
	status, got = enumerate(driver, 4, id, nil, false, 5)
	assert.Equal(projfs.Ok, status)
	assert.Empty(got)

	// Restarting rewinds to the first entry.
	status, got = enumerate(driver, 5, id, nil, true, -1)
	assert.Equal(projfs.Ok, status)
	assert.Equal(names, got)

	assert.Equal(projfs.Ok, callbacks.EndDirectoryEnumeration(
		driver.CallbackData(6, ""), id))
	status, _ = enumerate(driver, 7, id, nil, false, -1)
	assert.Equal(projfs.InvalidArg, status)
}

func TestEnumerationInsufficientBuffer(t *testing.T) {
	assert := assert.New(t)
	driver := projfstest.New()
	inst := startInstance(t, driver, &testProvider{
		entries: map[string][]projfs.DirectoryEntry{"dir": {
			{Name: "b"}, {Name: "a"},
		}},
	})
	defer inst.Stop()

	id := uuid.New()
	assert.Equal(projfs.Ok, driver.Callbacks().StartDirectoryEnumeration(
		driver.CallbackData(1, "dir"), id))
	status, got := enumerate(driver, 2, id, nil, false, 0)
	assert.Equal(projfs.InsufficientBuffer, status)
	assert.Empty(got)
	status, got = enumerate(driver, 3, id, nil, false, 1)
	assert.Equal(projfs.Ok, status)
	assert.Equal([]string{"a"}, got)
	status, got = enumerate(driver, 4, id, nil, false, -1)
	assert.Equal(projfs.Ok, status)
	assert.Equal([]string{"b"}, got)
}

func TestEnumerationFilter(t *testing.T) {
	assert := assert.New(t)
	driver := projfstest.New()
	inst := startInstance(t, driver, &testProvider{
		entries: map[string][]projfs.DirectoryEntry{"": {
			{Name: "b.txt"}, {Name: "ab.txt"}, {Name: "A.txt"},
			{Name: "sub", IsDirectory: true, Size: 100},
		}},
	})
	defer inst.Stop()

	id := uuid.New()
	assert.Equal(projfs.Ok, driver.Callbacks().StartDirectoryEnumeration(
		driver.CallbackData(1, ""), id))
	status, got := enumerate(driver, 2, id, stringPtr("a*"), false, -1)
	assert.Equal(projfs.Ok, status)
	assert.Equal([]string{"A.txt", "ab.txt"}, got)

	// The filter of the first call is kept until restart.
	status, got = enumerate(driver, 3, id, stringPtr("b*"), false, -1)
	assert.Equal(projfs.Ok, status)
	assert.Empty(got)
	status, got = enumerate(driver, 4, id, stringPtr("b*"), true, -1)
	assert.Equal(projfs.Ok, status)
	assert.Equal([]string{"b.txt"}, got)

	handle := driver.NewBuffer(-1)
	data := driver.CallbackData(5, "")
	data.Flags |= projfs.CallbackRestartScan
	assert.Equal(projfs.Ok, driver.Callbacks().GetDirectoryEnumeration(
		data, id, projfs.EncodeUTF16("s*"), handle))
	entries := driver.Buffer(handle)
	if assert.Len(entries, 1) {
		assert.True(entries[0].Info.IsDirectory)
		assert.Equal(int64(0), entries[0].Info.FileSize)
	}
}

func TestEnumerationUndecodableFilter(t *testing.T) {
	assert := assert.New(t)
	driver := projfstest.New()
	inst := startInstance(t, driver, &testProvider{
		entries: map[string][]projfs.DirectoryEntry{"": nil},
	})
	defer inst.Stop()
	id := uuid.New()
	assert.Equal(projfs.Ok, driver.Callbacks().StartDirectoryEnumeration(
		driver.CallbackData(1, ""), id))
	assert.Equal(projfs.InvalidArg, driver.Callbacks().GetDirectoryEnumeration(
		driver.CallbackData(2, ""), id, []uint16{0xDC00}, driver.NewBuffer(-1)))
}

func TestEnumerationListErrors(t *testing.T) {
	assert := assert.New(t)
	driver := projfstest.New()
	provider := &testProvider{}
	inst := startInstance(t, driver, provider)
	defer inst.Stop()

	callbacks := driver.Callbacks()
	assert.Equal(projfs.FileNotFound, callbacks.StartDirectoryEnumeration(
		driver.CallbackData(1, "missing"), uuid.New()))
	provider.listErr = projfs.Pending
	assert.Equal(projfs.InternalError, callbacks.StartDirectoryEnumeration(
		driver.CallbackData(2, ""), uuid.New()))
}

// rawProvider fills the results on completion.
type rawProvider struct {
	testProvider
	results  projfs.DirectoryEnumerationResults
	commands []projfs.CommandID
}

func (p *rawProvider) StartDirectoryEnumeration(
	inst *projfs.VirtualizationInstance, commandID projfs.CommandID,
	enumerationID uuid.UUID, path string, process projfs.ProcessInfo,
) error {
	return nil
}

func (p *rawProvider) GetDirectoryEnumeration(
	inst *projfs.VirtualizationInstance, commandID projfs.CommandID,
	enumerationID uuid.UUID, filter string, restart bool,
	results projfs.DirectoryEnumerationResults,
) error {
	p.results = results
	p.commands = append(p.commands, commandID)
	return projfs.Pending
}

func (p *rawProvider) EndDirectoryEnumeration(
	inst *projfs.VirtualizationInstance, enumerationID uuid.UUID,
) error {
	return nil
}

func TestEnumerationRawPending(t *testing.T) {
	assert := assert.New(t)
	driver := projfstest.New()
	provider := &rawProvider{}
	inst := startInstance(t, driver, provider)
	defer inst.Stop()

	id := uuid.New()
	assert.Equal(projfs.Ok, driver.Callbacks().StartDirectoryEnumeration(
		driver.CallbackData(1, ""), id))
	handle := driver.NewBuffer(-1)
	assert.Equal(projfs.Pending, driver.Callbacks().GetDirectoryEnumeration(
		driver.CallbackData(2, ""), id, nil, handle))
	assert.Equal([]projfs.CommandID{2}, provider.commands)
	assert.Equal(handle, provider.results.Handle())

	assert.False(provider.results.Add("", 0, false))
	assert.True(provider.results.Add("late.txt", 3, false))
	assert.ErrorIs(inst.CompleteNotification(2, projfs.NotifyNone),
		projfs.ErrCompletionKindMismatch)
	assert.NoError(inst.CompleteEnumeration(2, provider.results))
	c := waitCompletion(t, driver)
	assert.Equal(projfs.Ok, c.Result)
	if assert.NotNil(c.Params) {
		assert.Equal(projfs.CompletionEnumeration, c.Params.Kind)
		assert.Equal(handle, c.Params.DirEntryBufferHandle)
	}
	assert.Equal([]string{"late.txt"}, driver.Names(handle))
	assert.ErrorIs(inst.CompleteEnumeration(2, nil), projfs.InvalidArg)
}

func TestEnumerationConcurrent(t *testing.T) {
	assert := assert.New(t)
	var entries []projfs.DirectoryEntry
	var names []string
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("f%03d", i)
		names = append(names, name)
		entries = append(entries, projfs.DirectoryEntry{Name: name})
	}
	driver := projfstest.New()
	inst := startInstance(t, driver, &testProvider{
		entries: map[string][]projfs.DirectoryEntry{"": entries},
	})
	defer inst.Stop()

	const workers = 16
	results := make([][]string, workers)
	var group errgroup.Group
	for worker := 0; worker < workers; worker++ {
		group.Go(func() error {
			callbacks := driver.Callbacks()
			commandID := projfs.CommandID(worker * 1000)
			id := uuid.New()
			if status := callbacks.StartDirectoryEnumeration(
				driver.CallbackData(commandID, ""), id); status != projfs.Ok {
				return status
			}
			for {
				commandID++
				status, got := enumerate(driver, commandID, id, nil, false, 7)
				if status != projfs.Ok {
					return status
				}
				if len(got) == 0 {
					break
				}
				results[worker] = append(results[worker], got...)
			}
			commandID++
			if status := callbacks.EndDirectoryEnumeration(
				driver.CallbackData(commandID, ""), id); status != projfs.Ok {
				return status
			}
			return nil
		})
	}
	assert.NoError(group.Wait())
	for _, result := range results {
		assert.Equal(names, result)
	}
}
