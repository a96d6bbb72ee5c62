package gofs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/aegistudio/go-projfs"
	"github.com/aegistudio/go-projfs/projfstest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	fs       afero.Fs
	driver   *projfstest.Driver
	inst     *projfs.VirtualizationInstance
	provider *Provider
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/Dir/Sub", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/Dir/b.txt", []byte("bravo"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/Dir/a.txt",
		[]byte("hello world"), 0o444))
	require.NoError(t, afero.WriteFile(fs, "/root.txt", nil, 0o644))

	logger := zaptest.NewLogger(t)
	driver := projfstest.New()
	inst, err := projfs.NewVirtualizationInstance(
		driver, t.TempDir(), projfs.Logger(logger))
	require.NoError(t, err)
	provider := New(fs, WithLogger(logger), Options(opts...))
	require.NoError(t, inst.Start(provider))
	f := &fixture{fs: fs, driver: driver, inst: inst, provider: provider}
	t.Cleanup(f.close)
	return f
}

func (f *fixture) close() {
	f.provider.Close()
	f.inst.Stop()
}

func (f *fixture) list(t *testing.T, path string) []projfstest.Entry {
	id := uuid.New()
	callbacks := f.driver.Callbacks()
	require.Equal(t, projfs.Ok, callbacks.StartDirectoryEnumeration(
		f.driver.CallbackData(1, path), id))
	handle := f.driver.NewBuffer(-1)
	require.Equal(t, projfs.Ok, callbacks.GetDirectoryEnumeration(
		f.driver.CallbackData(2, path), id, nil, handle))
	require.Equal(t, projfs.Ok, callbacks.EndDirectoryEnumeration(
		f.driver.CallbackData(3, path), id))
	return f.driver.Buffer(handle)
}

func TestListDirectory(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	entries := f.list(t, "")
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	assert.Equal([]string{"Dir", "root.txt"}, names)

	entries = f.list(t, `dir`)
	if assert.Len(entries, 3) {
		assert.Equal("a.txt", entries[0].Name)
		assert.Equal(int64(11), entries[0].Info.FileSize)
		assert.Equal(fileAttributeReadonly,
			entries[0].Info.FileAttributes&fileAttributeReadonly)
		assert.Equal("b.txt", entries[1].Name)
		assert.Equal(fileAttributeNormal, entries[1].Info.FileAttributes)
		assert.Equal("Sub", entries[2].Name)
		assert.True(entries[2].Info.IsDirectory)
		assert.Equal(int64(0), entries[2].Info.FileSize)
	}

	callbacks := f.driver.Callbacks()
	assert.Equal(projfs.FileNotFound, callbacks.StartDirectoryEnumeration(
		f.driver.CallbackData(4, "missing"), uuid.New()))
	assert.Equal(projfs.Directory, callbacks.StartDirectoryEnumeration(
		f.driver.CallbackData(5, "root.txt"), uuid.New()))
}

func TestGetPlaceholderInfo(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	callbacks := f.driver.Callbacks()

	assert.Equal(projfs.Ok, callbacks.GetPlaceholderInfo(
		f.driver.CallbackData(1, `DIR\A.TXT`)))
	info, ok := f.driver.Placeholder(`Dir\a.txt`)
	if assert.True(ok) {
		assert.Equal(int64(11), info.FileSize)
		assert.Equal([]byte("gofs"), info.VersionInfo.ProviderID[:4])
		assert.NotEqual([32]byte{}, [32]byte(info.VersionInfo.ContentID[:32]))
	}
	assert.Equal(projfs.Ok, callbacks.GetPlaceholderInfo(
		f.driver.CallbackData(2, `dir\sub`)))
	info, ok = f.driver.Placeholder(`Dir\Sub`)
	if assert.True(ok) {
		assert.True(info.IsDirectory)
	}

	assert.Equal(projfs.FileNotFound, callbacks.GetPlaceholderInfo(
		f.driver.CallbackData(3, `dir\c.txt`)))
	assert.Equal(projfs.PathNotFound, callbacks.GetPlaceholderInfo(
		f.driver.CallbackData(4, `root.txt\x`)))
	assert.Equal(projfs.Ok, callbacks.QueryFileName(
		f.driver.CallbackData(5, `dir\B.txt`)))
	assert.Equal(projfs.FileNotFound, callbacks.QueryFileName(
		f.driver.CallbackData(6, `nothing`)))
}

func TestGetFileDataSync(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, WithChunkSize(4))
	callbacks := f.driver.Callbacks()

	data := f.driver.CallbackData(1, `dir\a.txt`)
	assert.Equal(projfs.Ok, callbacks.GetFileData(data, 0, 11))
	assert.Equal([]byte("hello world"), f.driver.Data(data.DataStreamID))

	// Reading beyond the end stops at the end of file.
	data = f.driver.CallbackData(2, `dir\b.txt`)
	assert.Equal(projfs.Ok, callbacks.GetFileData(data, 2, 100))
	assert.Equal([]byte("\x00\x00avo"), f.driver.Data(data.DataStreamID))

	assert.Equal(projfs.Directory, callbacks.GetFileData(
		f.driver.CallbackData(3, `dir\sub`), 0, 1))
	assert.Equal(projfs.FileNotFound, callbacks.GetFileData(
		f.driver.CallbackData(4, `dir\zzz`), 0, 1))
}

func waitCompletion(
	t *testing.T, driver *projfstest.Driver,
) projfstest.Completion {
	select {
	case c := <-driver.Completed:
		return c
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timeout waiting for completion")
	}
	return projfstest.Completion{}
}

func TestGetFileDataAsync(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, WithAsyncData(true), WithChunkSize(3))
	data := f.driver.CallbackData(11, `dir\a.txt`)
	assert.Equal(projfs.Pending,
		f.driver.Callbacks().GetFileData(data, 0, 11))
	c := waitCompletion(t, f.driver)
	assert.Equal(projfs.CommandID(11), c.CommandID)
	assert.Equal(projfs.Ok, c.Result)
	assert.Equal([]byte("hello world"), f.driver.Data(data.DataStreamID))
}

func TestGetFileDataCancel(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, WithAsyncData(true), WithWorkers(1))

	// Occupy the only worker, so the hydration waits.
	require.NoError(t, f.provider.sem.Acquire(context.Background(), 1))
	data := f.driver.CallbackData(12, `dir\b.txt`)
	assert.Equal(projfs.Pending,
		f.driver.Callbacks().GetFileData(data, 0, 5))

	// Deletion is vetoed while the file is being hydrated.
	assert.Equal(projfs.CannotDelete, f.driver.Callbacks().Notification(
		f.driver.CallbackData(13, `DIR\b.txt`), false,
		projfs.NotifyPreDelete, nil, nil))

	f.driver.Callbacks().CancelCommand(f.driver.CallbackData(12, ""))
	c := waitCompletion(t, f.driver)
	assert.Equal(projfs.CommandID(12), c.CommandID)
	assert.True(c.Result.Failed())
	assert.Empty(f.driver.Data(data.DataStreamID))
	f.provider.sem.Release(1)

	f.provider.workers.Wait()
	assert.Equal(projfs.Ok, f.driver.Callbacks().Notification(
		f.driver.CallbackData(14, `dir\b.txt`), false,
		projfs.NotifyPreDelete, nil, nil))
}

func TestNotifications(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, WithDenyDeletes(true))
	callbacks := f.driver.Callbacks()

	assert.Equal(projfs.CannotDelete, callbacks.Notification(
		f.driver.CallbackData(1, `dir\a.txt`), false,
		projfs.NotifyPreDelete, nil, nil))
	assert.Equal(projfs.Ok, callbacks.Notification(
		f.driver.CallbackData(2, `dir\a.txt`), false,
		projfs.NotifyPreRename, projfs.EncodeUTF16(`dir\c.txt`), nil))

	lock := f.provider.locker.Shared(`dir\a.txt`)
	assert.Equal(projfs.AccessDenied, callbacks.Notification(
		f.driver.CallbackData(3, `Dir`), true,
		projfs.NotifyPreRename, projfs.EncodeUTF16(`Dir2`), nil))
	lock.Unlock()

	params := &projfs.NotificationParameters{}
	assert.Equal(projfs.Ok, callbacks.Notification(
		f.driver.CallbackData(4, `new.txt`), false,
		projfs.NotifyNewFileCreated, nil, params))
	assert.Equal(uint32(projfs.NotifyUseExistingMask), params.Data)
	params = &projfs.NotificationParameters{Data: 1}
	assert.Equal(projfs.Ok, callbacks.Notification(
		f.driver.CallbackData(5, `new.txt`), false,
		projfs.NotifyFileHandleClosedFileDeleted, nil, params))
}
