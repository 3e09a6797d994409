package vecshard

import (
	"time"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/internal/backend/gonative"
	"github.com/hupe1980/vecshard/internal/engine"
	"github.com/hupe1980/vecshard/internal/fs"
)

// Publisher receives the files of every committed manifest change, manifest
// last. *blobstore.Mirror implements it.
type Publisher = engine.Publisher

// ResourceLimits bounds what builds and compactions may consume.
type ResourceLimits struct {
	// MemoryLimitBytes caps the accounted size of row buffers held by
	// concurrent builds. Zero only tracks usage.
	MemoryLimitBytes int64
	// MaxConcurrentBuilds caps builds running at once. Zero means one.
	MaxConcurrentBuilds int64
	// IOLimitBytesPerSec throttles staging writes. Zero is unlimited.
	IOLimitBytesPerSec int64
}

type options struct {
	backendName      string
	logger           *Logger
	metricsCollector MetricsCollector
	fs               fs.FileSystem
	limits           *ResourceLimits
	resources        *Resources
	retainVectors    bool
	publisher        Publisher
	mirror           blobstore.BlobStore
	mirrorOptions    []func(*blobstore.MirrorOptions)
	now              func() time.Time
	policy           engine.CompactionPolicy
}

func defaultOptions() options {
	return options{
		backendName:      gonative.Name,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		fs:               fs.Default,
		now:              time.Now,
	}
}

// Option configures Open.
type Option func(*options)

// WithBackend selects the index backend by name, "go" by default.
// "faiss" needs a binary built with the faiss tag; without it the index
// opens in stub mode and refuses builds with ErrBackendUnavailable.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backendName = name
	}
}

// WithLogger sets the logger. If nil, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithFileSystem replaces the local file system, for example with a
// fault-injecting one in tests.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.fs = fsys
	}
}

// WithResourceLimits enables build admission control for this index. Use
// WithResources to share limits between indexes.
func WithResourceLimits(limits ResourceLimits) Option {
	return func(o *options) {
		o.limits = &limits
	}
}

// WithRetainVectors keeps raw-vector retention files even while compaction
// is disabled, so it can be enabled later without rebuilding.
func WithRetainVectors(retain bool) Option {
	return func(o *options) {
		o.retainVectors = retain
	}
}

// WithPublisher sets a publisher notified after every manifest commit.
// It replaces WithMirror.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		o.publisher = p
		o.mirror = nil
	}
}

// WithMirror copies published files to store, segment files first and the
// manifest last. Upload failures are logged and never undo a local commit.
func WithMirror(store blobstore.BlobStore, optFns ...func(*blobstore.MirrorOptions)) Option {
	return func(o *options) {
		o.mirror = store
		o.mirrorOptions = optFns
		o.publisher = nil
	}
}

// WithClock sets the clock used to name segments built without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now == nil {
			now = time.Now
		}
		o.now = now
	}
}

// WithCompactionPolicy replaces the bounded size-tiered default.
func WithCompactionPolicy(p engine.CompactionPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}
