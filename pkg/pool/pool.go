// Package pool provides object pooling for NornicDB to reduce allocations.
//
// Object pooling reuses allocated byte buffers instead of allocating a
// fresh one per call, reducing GC pressure on storage's hot paths: the WAL
// writer builds SET_PROPERTY record payloads in these buffers and hands
// each record's payload back to the pool once it has been written out.
// Snapshot writing does not use the pool.
//
// Usage:
//
//	buf := pool.GetByteBuffer()
//	defer pool.PutByteBuffer(buf)
//	buf = append(buf, encoded...)
package pool

import (
	"sync"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the largest buffer (by capacity) kept in the pool.
	MaxSize int
}

var globalConfig = PoolConfig{
	Enabled: true,
	MaxSize: 1 << 20, // 1MB
}

// Configure sets global pool configuration. Should be called early during
// initialization, before any Get/Put calls from other goroutines.
func Configure(config PoolConfig) {
	globalConfig = config
	initPools()
}

func initPools() {
	byteBufferPool = sync.Pool{
		New: func() any {
			return make([]byte, 0, 1024)
		},
	}
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return globalConfig.Enabled
}

var byteBufferPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

// GetByteBuffer returns a zero-length byte buffer from the pool.
func GetByteBuffer() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 1024)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutByteBuffer returns a byte buffer to the pool. Buffers larger than
// MaxSize are dropped rather than pooled, so one oversized record doesn't
// permanently inflate the pool's steady-state memory.
func PutByteBuffer(buf []byte) {
	if !globalConfig.Enabled {
		return
	}
	if cap(buf) > globalConfig.MaxSize {
		return
	}
	byteBufferPool.Put(buf[:0])
}
