package filecache

// Stats is a snapshot of Store's capacity counters and eviction history.
// Obtained via Store.Stats.
type Stats struct {
	FileCount    int
	ByteSize     int64
	MaxFileCount int
	MaxByteSize  int64

	EvictionsFileCap int64
	EvictionsByteCap int64
	EvictionCount    int64 // EvictionsFileCap + EvictionsByteCap
	EvictedFiles     int64
	CleanupCount     int64
}
