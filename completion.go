package projfs

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// commandKind is the kind of callback a command has been
// invoked with, which decides the completion it accepts.
type commandKind uint8

const (
	commandGeneric = commandKind(iota)
	commandEnumeration
	commandNotification
)

func (k commandKind) accepts(kind CompletionKind) bool {
	switch kind {
	case CompletionEnumeration:
		return k == commandEnumeration
	case CompletionNotification:
		return k == commandNotification
	}
	return true
}

type commandState uint8

const (
	commandInvoked = commandState(iota)
	commandPending
)

// completion is a completion travelling from the provider
// to the completion worker.
type completion struct {
	commandID CommandID
	kind      CompletionKind
	result    error
	handle    DirEntryBufferHandle
	mask      NotificationType

	// reply receives the outcome, it is nil for a deferred
	// completion flushed by the dispatcher.
	reply chan error

	// entry is set on a deferred completion flushed by the
	// dispatcher, which has been settled with the ledger.
	entry *commandEntry
}

type commandEntry struct {
	kind         commandKind
	notification NotificationType
	state        commandState

	// deferred is the completion submitted while the
	// callback is still running, which is flushed once the
	// callback returns Pending.
	deferred *completion
}

// commandLedger tracks the commands between invocation and
// completion. Each command goes either Invoked -> done, or
// Invoked -> Pending -> done with exactly one completion.
type commandLedger struct {
	mu       sync.Mutex
	commands map[CommandID]*commandEntry
}

// begin records a command entering the provider, it tells
// whether a stale entry under the same id was replaced.
func (l *commandLedger) begin(
	commandID CommandID, kind commandKind,
	notification NotificationType,
) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.commands == nil {
		l.commands = make(map[CommandID]*commandEntry)
	}
	_, replaced := l.commands[commandID]
	l.commands[commandID] = &commandEntry{
		kind:         kind,
		notification: notification,
	}
	return replaced
}

// finish records the provider's status of a command. When
// the status is Pending and the provider has completed it
// already, the deferred completion is returned for flush.
// Otherwise a deferred completion is an orphan.
func (l *commandLedger) finish(
	commandID CommandID, status HResult,
) (flush *completion, entry *commandEntry, orphan *completion) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.commands[commandID]
	if !ok {
		return nil, nil, nil
	}
	if status == Pending && entry.deferred == nil {
		entry.state = commandPending
		return nil, entry, nil
	}
	delete(l.commands, commandID)
	if status == Pending {
		return entry.deferred, entry, nil
	}
	return nil, entry, entry.deferred
}

// complete records the completion of a command, telling
// whether the completion should be delivered right now.
func (l *commandLedger) complete(
	c *completion,
) (*commandEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.commands[c.commandID]
	if !ok {
		return nil, false, ErrCommandNotPending
	}
	if !entry.kind.accepts(c.kind) {
		return nil, false, ErrCompletionKindMismatch
	}
	if entry.state == commandPending {
		delete(l.commands, c.commandID)
		return entry, true, nil
	}
	if entry.deferred != nil {
		return nil, false, ErrCommandAlreadyCompleted
	}
	deferred := *c
	deferred.reply = nil
	entry.deferred = &deferred
	return entry, false, nil
}

// reset forgets about every command, returning the count
// of the ones still pending.
func (l *commandLedger) reset() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := 0
	for _, entry := range l.commands {
		if entry.state == commandPending {
			pending++
		}
	}
	l.commands = nil
	return pending
}

// CompleteCommand completes a command that returned
// Pending, with the final status converted from result.
//
// A nil result completes with Ok. ErrNotAllowed denies a
// vetoable notification with its specific status.
func (inst *VirtualizationInstance) CompleteCommand(
	commandID CommandID, result error,
) error {
	if convertHResult(result) == Pending {
		return errors.Wrapf(InvalidArg,
			"complete command %d with pending", commandID)
	}
	return inst.submit(&completion{
		commandID: commandID,
		kind:      CompletionStatus,
		result:    result,
	})
}

// CompleteEnumeration completes a get directory enumeration
// command that returned Pending, after the results have been
// filled into the sink it was invoked with.
func (inst *VirtualizationInstance) CompleteEnumeration(
	commandID CommandID, results DirectoryEnumerationResults,
) error {
	if results == nil {
		return errors.Wrap(InvalidArg, "nil enumeration results")
	}
	return inst.submit(&completion{
		commandID: commandID,
		kind:      CompletionEnumeration,
		handle:    results.Handle(),
	})
}

// CompleteNotification completes a notification command
// that returned Pending, allowing the operation and setting
// the notification mask of the file.
func (inst *VirtualizationInstance) CompleteNotification(
	commandID CommandID, mask NotificationType,
) error {
	return inst.submit(&completion{
		commandID: commandID,
		kind:      CompletionNotification,
		mask:      mask,
	})
}

func (inst *VirtualizationInstance) submit(c *completion) error {
	if !inst.initialized.Load() {
		return ErrNotStarted
	}
	c.reply = make(chan error, 1)
	select {
	case inst.completions <- c:
	case <-inst.stopping:
		return ErrNotStarted
	}
	select {
	case err := <-c.reply:
		return err
	case <-inst.completionDone:
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrNotStarted
		}
	}
}

// post hands a deferred completion to the worker.
func (inst *VirtualizationInstance) post(c *completion) {
	select {
	case inst.completions <- c:
	case <-inst.stopping:
		inst.logger.Warn("drop deferred completion of stopping instance",
			zap.Int32("command_id", int32(c.commandID)))
	}
}

// runCompletions is the completion worker, completions are
// delivered one at a time in the order of submission.
func (inst *VirtualizationInstance) runCompletions() {
	defer close(inst.completionDone)
	select {
	case <-inst.ready:
	case <-inst.stopping:
		inst.drainCompletions()
		return
	}
	for {
		select {
		case c := <-inst.completions:
			err := inst.deliver(c)
			if c.reply != nil {
				c.reply <- err
			}
		case <-inst.stopping:
			inst.drainCompletions()
			return
		}
	}
}

func (inst *VirtualizationInstance) drainCompletions() {
	for {
		select {
		case c := <-inst.completions:
			if c.reply != nil {
				c.reply <- ErrNotStarted
			}
		default:
			return
		}
	}
}

func (inst *VirtualizationInstance) deliver(c *completion) error {
	if c.entry != nil {
		return inst.send(c.entry, c)
	}
	entry, deliver, err := inst.ledger.complete(c)
	if err != nil {
		inst.logger.Error("reject command completion",
			zap.Int32("command_id", int32(c.commandID)),
			zap.Stringer("kind", c.kind),
			zap.Error(err))
		observeCompletion(inst.option.metrics, c.kind, "rejected")
		return errors.Wrapf(err, "complete command %d", c.commandID)
	}
	if !deliver {
		observeCompletion(inst.option.metrics, c.kind, "deferred")
		return nil
	}
	return inst.send(entry, c)
}

func (inst *VirtualizationInstance) send(
	entry *commandEntry, c *completion,
) error {
	result := Ok
	var params *CompletionParameters
	switch c.kind {
	case CompletionStatus:
		err := c.result
		if entry != nil && entry.kind == commandNotification {
			err = inst.notificationResult(
				c.commandID, entry.notification, err)
		}
		result = convertHResult(err)
	case CompletionEnumeration:
		params = &CompletionParameters{
			Kind:                 CompletionEnumeration,
			DirEntryBufferHandle: c.handle,
		}
	case CompletionNotification:
		params = &CompletionParameters{
			Kind:             CompletionNotification,
			NotificationMask: c.mask,
		}
	}
	if err := inst.driver.CompleteCommand(
		inst.context, c.commandID, result, params,
	); err != nil {
		observeCompletion(inst.option.metrics, c.kind, "failed")
		return errors.Wrapf(err, "complete command %d", c.commandID)
	}
	observeCompletion(inst.option.metrics, c.kind, "completed")
	return nil
}
