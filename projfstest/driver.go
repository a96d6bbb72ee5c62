package projfstest

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/aegistudio/go-projfs"
)

// Completion is a command completion received by Driver.
type Completion struct {
	CommandID projfs.CommandID
	Result    projfs.HResult
	Params    *projfs.CompletionParameters
}

// Entry is an entry filled into a directory entry buffer.
type Entry struct {
	Name string
	Info projfs.FileBasicInfo
}

type buffer struct {
	capacity int
	entries  []Entry
}

// Driver is the in-memory projfs.Driver. The exported
// fields are read by StartVirtualizing, and should be set
// before the instance is started.
type Driver struct {
	InstanceID     uuid.UUID
	WriteAlignment uint32
	StartErr       error

	// Completed receives every completion.
	Completed chan Completion

	mu           sync.Mutex
	callbacks    *projfs.Callbacks
	token        projfs.InstanceToken
	options      *projfs.StartOptions
	context      projfs.VirtualizationContext
	running      bool
	stops        int
	roots        map[string]uuid.UUID
	placeholders map[string]projfs.PlaceholderInfo
	data         map[uuid.UUID][]byte
	deleted      []string
	buffers      map[projfs.DirEntryBufferHandle]*buffer
	nextHandle   projfs.DirEntryBufferHandle
	completions  []Completion
	negatives    uint32
}

// New creates the driver.
func New() *Driver {
	return &Driver{
		InstanceID:   uuid.New(),
		Completed:    make(chan Completion, 1024),
		roots:        make(map[string]uuid.UUID),
		placeholders: make(map[string]projfs.PlaceholderInfo),
		data:         make(map[uuid.UUID][]byte),
		buffers:      make(map[projfs.DirEntryBufferHandle]*buffer),
	}
}

func (d *Driver) MarkDirectoryAsPlaceholder(
	rootPath, targetPath string,
	versionInfo *projfs.PlaceholderVersionInfo, instanceID uuid.UUID,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if targetPath == "" {
		d.roots[rootPath] = instanceID
		return nil
	}
	info := projfs.PlaceholderInfo{}
	info.IsDirectory = true
	if versionInfo != nil {
		info.VersionInfo = *versionInfo
	}
	d.placeholders[targetPath] = info
	return nil
}

func (d *Driver) StartVirtualizing(
	rootPath string, callbacks *projfs.Callbacks,
	token projfs.InstanceToken, options *projfs.StartOptions,
) (projfs.VirtualizationContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return 0, d.StartErr
	}
	if d.running {
		return 0, projfs.AlreadyInitialized
	}
	d.callbacks = callbacks
	d.token = token
	d.options = options
	d.context++
	d.running = true
	return d.context, nil
}

func (d *Driver) StopVirtualizing(ctx projfs.VirtualizationContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx == d.context {
		d.running = false
	}
	d.stops++
}

func (d *Driver) checkContext(ctx projfs.VirtualizationContext) error {
	if !d.running || ctx != d.context {
		return errors.Wrapf(projfs.Handle,
			"invalid virtualization context %d", ctx)
	}
	return nil
}

func (d *Driver) GetVirtualizationInstanceInfo(
	ctx projfs.VirtualizationContext,
) (*projfs.InstanceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkContext(ctx); err != nil {
		return nil, err
	}
	return &projfs.InstanceInfo{
		InstanceID:     d.InstanceID,
		WriteAlignment: d.WriteAlignment,
	}, nil
}

func (d *Driver) CompleteCommand(
	ctx projfs.VirtualizationContext, commandID projfs.CommandID,
	result projfs.HResult, params *projfs.CompletionParameters,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkContext(ctx); err != nil {
		return err
	}
	c := Completion{CommandID: commandID, Result: result}
	if params != nil {
		paramsCopy := *params
		c.Params = &paramsCopy
	}
	d.completions = append(d.completions, c)
	d.Completed <- c
	return nil
}

// NewBuffer allocates a directory entry buffer holding up
// to capacity entries, a negative capacity is unbounded.
func (d *Driver) NewBuffer(capacity int) projfs.DirEntryBufferHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	d.buffers[d.nextHandle] = &buffer{capacity: capacity}
	return d.nextHandle
}

// Buffer returns the entries filled into the buffer.
func (d *Driver) Buffer(handle projfs.DirEntryBufferHandle) []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[handle]
	if !ok {
		return nil
	}
	return append([]Entry(nil), b.entries...)
}

// Names returns the names filled into the buffer.
func (d *Driver) Names(handle projfs.DirEntryBufferHandle) []string {
	var result []string
	for _, entry := range d.Buffer(handle) {
		result = append(result, entry.Name)
	}
	return result
}

func (d *Driver) FillDirEntryBuffer(
	handle projfs.DirEntryBufferHandle,
	fileName string, info *projfs.FileBasicInfo,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[handle]
	if !ok {
		return errors.Wrapf(projfs.InvalidArg,
			"unknown buffer %d", handle)
	}
	if b.capacity >= 0 && len(b.entries) >= b.capacity {
		return projfs.InsufficientBuffer
	}
	b.entries = append(b.entries, Entry{Name: fileName, Info: *info})
	return nil
}

func (d *Driver) WritePlaceholderInfo(
	ctx projfs.VirtualizationContext,
	relativePath string, info *projfs.PlaceholderInfo,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkContext(ctx); err != nil {
		return err
	}
	d.placeholders[relativePath] = *info
	return nil
}

// Placeholder returns the placeholder written at the path.
func (d *Driver) Placeholder(
	relativePath string,
) (projfs.PlaceholderInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.placeholders[relativePath]
	return info, ok
}

// Placeholders returns the sorted paths of placeholders.
func (d *Driver) Placeholders() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []string
	for path := range d.placeholders {
		result = append(result, path)
	}
	sort.Strings(result)
	return result
}

func (d *Driver) UpdateFileIfNeeded(
	ctx projfs.VirtualizationContext, relativePath string,
	info *projfs.PlaceholderInfo, flags projfs.UpdateType,
) (projfs.UpdateFailureCause, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkContext(ctx); err != nil {
		return projfs.UpdateFailureNone, err
	}
	current, ok := d.placeholders[relativePath]
	if ok && current.VersionInfo.ContentID == info.VersionInfo.ContentID {
		return projfs.UpdateFailureNone, nil
	}
	d.placeholders[relativePath] = *info
	return projfs.UpdateFailureNone, nil
}

func (d *Driver) DeleteFile(
	ctx projfs.VirtualizationContext,
	relativePath string, flags projfs.UpdateType,
) (projfs.UpdateFailureCause, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkContext(ctx); err != nil {
		return projfs.UpdateFailureNone, err
	}
	if _, ok := d.placeholders[relativePath]; !ok {
		return projfs.UpdateFailureNone, projfs.FileNotFound
	}
	delete(d.placeholders, relativePath)
	d.deleted = append(d.deleted, relativePath)
	return projfs.UpdateFailureNone, nil
}

func (d *Driver) WriteFileData(
	ctx projfs.VirtualizationContext, dataStreamID uuid.UUID,
	data []byte, byteOffset uint64,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkContext(ctx); err != nil {
		return err
	}
	stream := d.data[dataStreamID]
	end := int(byteOffset) + len(data)
	if len(stream) < end {
		stream = append(stream, make([]byte, end-len(stream))...)
	}
	copy(stream[byteOffset:], data)
	d.data[dataStreamID] = stream
	return nil
}

// Data returns the content written into the data stream.
func (d *Driver) Data(dataStreamID uuid.UUID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data[dataStreamID]...)
}

// SetNegativePaths sets the count of paths reported by the
// next ClearNegativePathCache.
func (d *Driver) SetNegativePaths(count uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.negatives = count
}

func (d *Driver) ClearNegativePathCache(
	ctx projfs.VirtualizationContext,
) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkContext(ctx); err != nil {
		return 0, err
	}
	result := d.negatives
	d.negatives = 0
	return result, nil
}

func (d *Driver) GetOnDiskFileState(path string) (projfs.FileState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for relativePath := range d.placeholders {
		if len(path) >= len(relativePath) &&
			path[len(path)-len(relativePath):] == relativePath {
			return projfs.FileStatePlaceholder, nil
		}
	}
	return 0, projfs.FileNotFound
}

var _ projfs.Driver = (*Driver)(nil)

// Callbacks returns the callbacks presented at start.
func (d *Driver) Callbacks() *projfs.Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.callbacks
}

// Options returns the options presented at start.
func (d *Driver) Options() *projfs.StartOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.options
}

// Token returns the token presented at start.
func (d *Driver) Token() projfs.InstanceToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.token
}

// Running tells whether the callbacks are presented.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stops returns how many times StopVirtualizing is called.
func (d *Driver) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// Root returns the instance id the root is marked with.
func (d *Driver) Root(rootPath string) (uuid.UUID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.roots[rootPath]
	return id, ok
}

// Completions returns the completions received so far.
func (d *Driver) Completions() []Completion {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Completion(nil), d.completions...)
}

// CallbackData creates the data of a callback carrying the
// token of the started instance.
func (d *Driver) CallbackData(
	commandID projfs.CommandID, path string,
) *projfs.CallbackData {
	return &projfs.CallbackData{
		CommandID:                      commandID,
		InstanceToken:                  d.Token(),
		FilePathName:                   projfs.EncodeUTF16(path),
		DataStreamID:                   uuid.New(),
		TriggeringProcessID:            4,
		TriggeringProcessImageFileName: projfs.EncodeUTF16(`C:\Windows\explorer.exe`),
	}
}
