package ccbench

// CCVariant selects which concurrent control protocol the Executor binds
// to. Selection is a compile-time/startup knob, not a runtime config file.
type CCVariant int

const (
	// TPL is Two-Phase Locking.
	TPL CCVariant = iota
	// OCCNUMA is Optimistic Concurrency Control with NUMA-aware versioning.
	OCCNUMA
	// Romulus is the double-copy main/backup protocol.
	Romulus
	// Courier is the deferred-persistence protocol.
	Courier
)

func (v CCVariant) String() string {
	switch v {
	case TPL:
		return "TPL"
	case OCCNUMA:
		return "OCC-NUMA"
	case Romulus:
		return "Romulus"
	case Courier:
		return "Courier"
	default:
		return "Unknown"
	}
}

// IndexKind names the external index backend the CC consults. The index
// implementation itself is out of scope; this only records which contract
// shape the host is wiring in.
type IndexKind int

const (
	// HashMapIndex is a concurrent hash map index.
	HashMapIndex IndexKind = iota
	// BPTreeIndex is a B+tree index.
	BPTreeIndex
)

// AllocatorKind selects the memory allocator family backing records, logs
// and versions.
type AllocatorKind int

const (
	// RingAllocator is the sequential, CAS-advancing, wrapping allocator.
	RingAllocator AllocatorKind = iota
	// ScatteredAllocator returns individually allocated, non-reused blocks.
	ScatteredAllocator
)

// FlushStrategy selects the persistence primitive used by Pwb/PwbRange.
type FlushStrategy int

const (
	// CLWB writes back a cache line without invalidating it; needs a
	// trailing fence.
	CLWB FlushStrategy = iota
	// CLFLUSH writes back and invalidates a cache line; serializing, needs
	// no trailing fence.
	CLFLUSH
	// CLFLUSHOPT is a weakly-ordered CLFLUSH variant; needs a trailing
	// fence.
	CLFLUSHOPT
)

// MemMedia names the backing medium an allocator targets.
type MemMedia int

const (
	// DRAM backs the allocator with a shared-memory (/dev/shm) file.
	DRAM MemMedia = iota
	// PMEM backs the allocator with a file under a configured PMEM
	// directory.
	PMEM
)

// Config collects the compile-time knobs the host benchmark binary
// assembles before constructing a scheduler. There is no runtime config
// file; Config is built programmatically with the With* options.
type Config struct {
	CCVariant      CCVariant
	IndexKind      IndexKind
	AllocatorKind  AllocatorKind
	FlushStrategy  FlushStrategy
	MaxThreadCount int
	PmemDir        string
	DramDir        string
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithCCVariant selects the CC protocol.
func WithCCVariant(v CCVariant) Option { return func(c *Config) { c.CCVariant = v } }

// WithIndexKind records which index contract shape is wired in.
func WithIndexKind(k IndexKind) Option { return func(c *Config) { c.IndexKind = k } }

// WithAllocatorKind selects the allocator family.
func WithAllocatorKind(k AllocatorKind) Option { return func(c *Config) { c.AllocatorKind = k } }

// WithFlushStrategy selects the persistence primitive.
func WithFlushStrategy(f FlushStrategy) Option { return func(c *Config) { c.FlushStrategy = f } }

// WithMaxThreads bounds the worker pool size.
func WithMaxThreads(n int) Option { return func(c *Config) { c.MaxThreadCount = n } }

// WithPmemDir sets the PMEM-backed ring/scattered allocator directory.
func WithPmemDir(dir string) Option { return func(c *Config) { c.PmemDir = dir } }

// WithDramDir sets the DRAM-backed (/dev/shm-style) allocator directory.
func WithDramDir(dir string) Option { return func(c *Config) { c.DramDir = dir } }

// NewConfig builds a Config from the given options, applying the same
// defaults the original harness compiled in: CLWB flush strategy, ring
// allocator, a single DRAM temp directory.
func NewConfig(opts ...Option) Config {
	c := Config{
		CCVariant:      TPL,
		IndexKind:      HashMapIndex,
		AllocatorKind:  RingAllocator,
		FlushStrategy:  CLWB,
		MaxThreadCount: 1,
		DramDir:        "/dev/shm/temp_log",
		PmemDir:        "/mnt/pmem0",
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
