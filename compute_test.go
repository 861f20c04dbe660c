package main

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeConfig(t *testing.T) {
	cfg := DefaultComputeConfig()
	assert.True(t, cfg.Parallel, "default config should enable parallel execution")
	assert.Equal(t, runtime.NumCPU(), cfg.numWorkers())

	stCfg := SingleThreadedConfig()
	assert.False(t, stCfg.Parallel)
	assert.Equal(t, 1, stCfg.numWorkers())

	assert.Equal(t, runtime.NumCPU(), ComputeConfigForThreads(0).numWorkers())
	assert.Equal(t, 1, ComputeConfigForThreads(1).numWorkers())
	assert.Equal(t, 3, ComputeConfigForThreads(3).numWorkers())
}

// Parallel results must be bit-identical, not merely close: seeded runs
// reproduce exactly only if they are.
func TestParallelMatMulBitIdentical(t *testing.T) {
	rng := NewRNG(7, streamRun)
	for _, size := range []int{1, 15, 16, 33, 128} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			a := NewTensorRand(rng, 1, size, 40)
			b := NewTensorRand(rng, 1, 40, 24)

			single := MatMulWithConfig(a, b, SingleThreadedConfig())
			for _, workers := range []int{2, 3, 8} {
				par := MatMulWithConfig(a, b, ComputeConfig{Parallel: true, NumWorkers: workers, MinSizeForParallel: 1})
				assert.Equal(t, single.Data(), par.Data(), "workers=%d", workers)
			}
		})
	}
}

func TestMinSizeForParallel(t *testing.T) {
	cfg := ComputeConfig{Parallel: true, NumWorkers: 4, MinSizeForParallel: 16}
	assert.False(t, cfg.shouldParallelize(15))
	assert.True(t, cfg.shouldParallelize(16))
	assert.False(t, SingleThreadedConfig().shouldParallelize(1000))
}

func TestGlobalComputeConfig(t *testing.T) {
	orig := GetGlobalComputeConfig()
	defer SetGlobalComputeConfig(orig)

	SetGlobalComputeConfig(SingleThreadedConfig())
	assert.False(t, GetGlobalComputeConfig().Parallel)
}
