package projfs

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// VirtualizationInstance is the provider's side of a
// virtualization root.
//
// The instance is created unstarted. Start presents the
// provider to the file system, which then calls it back
// until Stop. An instance can only be started once.
type VirtualizationInstance struct {
	driver   Driver
	rootPath string
	option   *option
	logger   *zap.Logger

	initialized atomic.Bool
	running     atomic.Bool

	// The following fields are set by Start before the
	// instance gets registered, and are read only since.
	token InstanceToken
	ref   *providerRef

	// The following fields are set by Start once the file
	// system accepts the instance, before ready is closed.
	context        VirtualizationContext
	instanceID     uuid.UUID
	writeAlignment uint32

	ledger         commandLedger
	completions    chan *completion
	ready          chan struct{}
	stopping       chan struct{}
	stopOnce       sync.Once
	completionDone chan struct{}
}

// MarkDirectoryAsVirtualizationRoot marks an existing and
// empty directory as a virtualization root owned by the
// specified instance id.
func MarkDirectoryAsVirtualizationRoot(
	driver Driver, rootPath string, instanceID uuid.UUID,
) error {
	if err := driver.MarkDirectoryAsPlaceholder(
		rootPath, "", nil, instanceID,
	); err != nil {
		return errors.Wrapf(err,
			"mark %q as virtualization root", rootPath)
	}
	return nil
}

// NewVirtualizationInstance creates the instance of the
// virtualization root.
//
// When the root does not exist, it is created and marked as
// a virtualization root with a new instance id. Otherwise it
// is assumed to be a virtualization root already.
func NewVirtualizationInstance(
	driver Driver, rootPath string, opts ...Option,
) (*VirtualizationInstance, error) {
	if driver == nil {
		return nil, errors.New("invalid nil driver parameter")
	}
	option := newOption()
	Options(opts...)(option)
	for _, mapping := range option.notificationMappings {
		if err := mapping.Validate(); err != nil {
			return nil, err
		}
	}
	stat, err := os.Stat(rootPath)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(rootPath, 0o755); err != nil {
			return nil, errors.Wrapf(err,
				"create virtualization root %q", rootPath)
		}
		if err := MarkDirectoryAsVirtualizationRoot(
			driver, rootPath, uuid.New()); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, errors.Wrapf(err,
			"stat virtualization root %q", rootPath)
	case !stat.IsDir():
		return nil, errors.Wrapf(Directory,
			"virtualization root %q is not a directory", rootPath)
	}
	if option.metrics {
		registerMetrics()
	}
	return &VirtualizationInstance{
		driver:         driver,
		rootPath:       rootPath,
		option:         option,
		logger:         option.logger.With(zap.String("root", rootPath)),
		completions:    make(chan *completion, 64),
		ready:          make(chan struct{}),
		stopping:       make(chan struct{}),
		completionDone: make(chan struct{}),
	}, nil
}

// RootPath returns the path of the virtualization root.
func (inst *VirtualizationInstance) RootPath() string {
	return inst.rootPath
}

// InstanceID returns the id assigned by the file system.
func (inst *VirtualizationInstance) InstanceID() (uuid.UUID, error) {
	if !inst.running.Load() {
		return uuid.Nil, ErrNotStarted
	}
	return inst.instanceID, nil
}

// Logger returns the logger of the instance.
func (inst *VirtualizationInstance) Logger() *zap.Logger {
	return inst.logger
}

func (inst *VirtualizationInstance) loadContext() (VirtualizationContext, error) {
	if !inst.running.Load() {
		return 0, ErrNotStarted
	}
	return inst.context, nil
}

// Start presents the provider to the file system.
//
// The provider must implement one of the directory
// enumeration behaviours, and the optional behaviours it
// implements are presented to the file system, the others
// are left to the file system's default.
func (inst *VirtualizationInstance) Start(provider BehaviourBase) error {
	if provider == nil {
		return errors.New("invalid nil provider parameter")
	}
	ref, err := newProviderRef(provider, inst.option)
	if err != nil {
		return err
	}
	if !inst.initialized.CompareAndSwap(false, true) {
		return AlreadyInitialized
	}
	started := false
	defer func() {
		if !started {
			inst.stopOnce.Do(func() { close(inst.stopping) })
		}
	}()
	inst.ref = ref
	go inst.runCompletions()

	inst.token = registerInstance(inst)
	defer func() {
		if !started {
			unregisterInstance(inst.token)
		}
	}()
	var flags StartFlags
	if inst.option.negativePathCache {
		flags |= StartUseNegativePathCache
	}
	context, err := inst.driver.StartVirtualizing(
		inst.rootPath, ref.callbacks, inst.token, &StartOptions{
			Flags:                 flags,
			PoolThreadCount:       inst.option.poolThreadCount,
			ConcurrentThreadCount: inst.option.concurrentThreadCount,
			NotificationMappings:  inst.option.notificationMappings,
		})
	if err != nil {
		return errors.Wrapf(err, "start virtualizing %q", inst.rootPath)
	}
	defer func() {
		if !started {
			inst.driver.StopVirtualizing(context)
		}
	}()
	info, err := inst.driver.GetVirtualizationInstanceInfo(context)
	if err != nil {
		return errors.Wrap(err, "get virtualization instance info")
	}
	inst.context = context
	inst.instanceID = info.InstanceID
	inst.writeAlignment = info.WriteAlignment
	inst.running.Store(true)
	close(inst.ready)
	started = true
	inst.logger.Info("virtualization instance started",
		zap.Stringer("instance_id", info.InstanceID),
		zap.Uint32("write_alignment", info.WriteAlignment))
	return nil
}

// Stop withdraws the provider from the file system. It is
// a no-op when the instance is not running.
func (inst *VirtualizationInstance) Stop() {
	if !inst.running.CompareAndSwap(true, false) {
		return
	}
	inst.driver.StopVirtualizing(inst.context)
	unregisterInstance(inst.token)
	inst.stopOnce.Do(func() { close(inst.stopping) })
	<-inst.completionDone
	if pending := inst.ledger.reset(); pending > 0 {
		inst.logger.Warn("stopped with pending commands",
			zap.Int("pending", pending))
	}
	inst.ref.close()
	inst.logger.Info("virtualization instance stopped")
}

// dispatch runs the provider's handler of a command and
// settles the command with the ledger.
func (inst *VirtualizationInstance) dispatch(
	callback string, commandID CommandID,
	kind commandKind, notification NotificationType,
	handler func() error,
) HResult {
	timeStart := time.Now()
	if inst.ledger.begin(commandID, kind, notification) {
		inst.logger.Warn("command id reused while in flight",
			zap.String("callback", callback),
			zap.Int32("command_id", int32(commandID)))
	}
	status := convertHResult(handler())
	flush, entry, orphan := inst.ledger.finish(commandID, status)
	if flush != nil {
		flush.entry = entry
		inst.post(flush)
	}
	if orphan != nil {
		inst.logger.Error("command completed without returning pending",
			zap.String("callback", callback),
			zap.Int32("command_id", int32(commandID)),
			zap.Stringer("status", status))
	}
	observeCallback(inst.option.metrics, callback, status, timeStart)
	return status
}
