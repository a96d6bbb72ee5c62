package projfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerPendingThenComplete(t *testing.T) {
	assert := assert.New(t)
	var l commandLedger
	assert.False(l.begin(1, commandGeneric, NotifyNone))
	flush, entry, orphan := l.finish(1, Pending)
	assert.Nil(flush)
	assert.Nil(orphan)
	assert.Equal(commandPending, entry.state)

	entry, deliver, err := l.complete(&completion{commandID: 1})
	assert.NoError(err)
	assert.True(deliver)
	assert.NotNil(entry)

	_, _, err = l.complete(&completion{commandID: 1})
	assert.ErrorIs(err, ErrCommandNotPending)
	assert.Equal(0, l.reset())
}

func TestLedgerSynchronous(t *testing.T) {
	assert := assert.New(t)
	var l commandLedger
	l.begin(2, commandGeneric, NotifyNone)
	flush, _, orphan := l.finish(2, Ok)
	assert.Nil(flush)
	assert.Nil(orphan)

	_, _, err := l.complete(&completion{commandID: 2})
	assert.ErrorIs(err, ErrCommandNotPending)
}

func TestLedgerEarlyCompletion(t *testing.T) {
	assert := assert.New(t)
	var l commandLedger
	l.begin(3, commandGeneric, NotifyNone)
	reply := make(chan error, 1)
	_, deliver, err := l.complete(&completion{
		commandID: 3, result: FileNotFound, reply: reply,
	})
	assert.NoError(err)
	assert.False(deliver)

	_, _, err = l.complete(&completion{commandID: 3})
	assert.ErrorIs(err, ErrCommandAlreadyCompleted)

	flush, entry, orphan := l.finish(3, Pending)
	assert.Nil(orphan)
	assert.NotNil(entry)
	if assert.NotNil(flush) {
		assert.Equal(CommandID(3), flush.commandID)
		assert.Equal(FileNotFound, flush.result)
		assert.Nil(flush.reply)
	}

	// The command is done once flushed.
	_, _, err = l.complete(&completion{commandID: 3})
	assert.ErrorIs(err, ErrCommandNotPending)
}

func TestLedgerOrphan(t *testing.T) {
	assert := assert.New(t)
	var l commandLedger
	l.begin(4, commandGeneric, NotifyNone)
	_, _, err := l.complete(&completion{commandID: 4})
	assert.NoError(err)
	flush, _, orphan := l.finish(4, Ok)
	assert.Nil(flush)
	assert.NotNil(orphan)
}

func TestLedgerKindMismatch(t *testing.T) {
	assert := assert.New(t)
	var l commandLedger
	l.begin(5, commandGeneric, NotifyNone)
	l.finish(5, Pending)
	l.begin(6, commandEnumeration, NotifyNone)
	l.finish(6, Pending)
	l.begin(7, commandNotification, NotifyPreDelete)
	l.finish(7, Pending)

	_, _, err := l.complete(&completion{
		commandID: 5, kind: CompletionEnumeration})
	assert.ErrorIs(err, ErrCompletionKindMismatch)
	_, _, err = l.complete(&completion{
		commandID: 6, kind: CompletionNotification})
	assert.ErrorIs(err, ErrCompletionKindMismatch)
	_, _, err = l.complete(&completion{
		commandID: 7, kind: CompletionEnumeration})
	assert.ErrorIs(err, ErrCompletionKindMismatch)

	// Bare completion is accepted by every kind.
	for _, id := range []CommandID{5, 6} {
		_, deliver, err := l.complete(&completion{commandID: id})
		assert.NoError(err)
		assert.True(deliver)
	}
	entry, deliver, err := l.complete(&completion{
		commandID: 7, kind: CompletionNotification})
	assert.NoError(err)
	assert.True(deliver)
	assert.Equal(NotifyPreDelete, entry.notification)
	assert.Equal(0, l.reset())
}

func TestLedgerReset(t *testing.T) {
	assert := assert.New(t)
	var l commandLedger
	l.begin(8, commandGeneric, NotifyNone)
	l.finish(8, Pending)
	l.begin(9, commandGeneric, NotifyNone)
	assert.True(l.begin(9, commandGeneric, NotifyNone))
	assert.Equal(1, l.reset())
	_, _, err := l.complete(&completion{commandID: 8})
	assert.ErrorIs(err, ErrCommandNotPending)
}
