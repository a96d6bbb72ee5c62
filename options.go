package projfs

import (
	"go.uber.org/zap"

	"github.com/aegistudio/go-projfs/namematch"
)

type option struct {
	poolThreadCount       uint32
	concurrentThreadCount uint32
	negativePathCache     bool
	notificationMappings  []NotificationMapping
	logger                *zap.Logger
	matcher               namematch.Matcher
	metrics               bool
}

func newOption() *option {
	return &option{
		negativePathCache: true,
		logger:            zap.NewNop(),
		matcher:           namematch.Default,
	}
}

// Option is the option for creating the virtualization
// instance.
type Option func(*option)

// PoolThreadCount is the hint of the count of threads the
// file system dedicates to the instance. Zero lets the file
// system decide.
func PoolThreadCount(value uint32) Option {
	return func(o *option) {
		o.poolThreadCount = value
	}
}

// ConcurrentThreadCount is the hint of the count of threads
// the file system runs callbacks on concurrently. Zero lets
// the file system decide.
func ConcurrentThreadCount(value uint32) Option {
	return func(o *option) {
		o.concurrentThreadCount = value
	}
}

// NegativePathCache specifies whether the file system
// remembers the paths the provider reports not found, and
// stops asking for them until ClearNegativePathCache.
func NegativePathCache(value bool) Option {
	return func(o *option) {
		o.negativePathCache = value
	}
}

// NotificationMappings appends notification mappings, in
// the order they are given.
func NotificationMappings(value ...NotificationMapping) Option {
	return func(o *option) {
		o.notificationMappings = append(
			o.notificationMappings, value...)
	}
}

// Logger sets the logger of protocol violations.
func Logger(value *zap.Logger) Option {
	return func(o *option) {
		if value == nil {
			value = zap.NewNop()
		}
		o.logger = value
	}
}

// NameMatcher sets the matcher used for sorting and
// filtering the entries of ListDirectory providers.
func NameMatcher(value namematch.Matcher) Option {
	return func(o *option) {
		if value == nil {
			value = namematch.Default
		}
		o.matcher = value
	}
}

// Metrics specifies whether the callbacks and completions
// of the instance are recorded in prometheus metrics.
func Metrics(value bool) Option {
	return func(o *option) {
		o.metrics = value
	}
}

// Options is used to aggregate a bundle of options.
func Options(opts ...Option) Option {
	return func(o *option) {
		for _, opt := range opts {
			opt(o)
		}
	}
}
