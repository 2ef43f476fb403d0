package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/halyard-io/pelorus/internal/units"
)

func setupBenchCache(b *testing.B, paths int) *Cache {
	b.Helper()
	cache := NewCache()
	now := time.Now()
	for i := 0; i < paths; i++ {
		cache.Put(fmt.Sprintf("bench.path.%03d", i), "s", NumberValue(float64(i)), now)
	}
	return cache
}

func BenchmarkCachePut(b *testing.B) {
	cache := NewCache()
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Put("navigation.speedOverGround", "gps1", NumberValue(5.2), now)
	}
}

func BenchmarkCacheGet(b *testing.B) {
	cache := setupBenchCache(b, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get("bench.path.050", "s")
	}
}

func BenchmarkCacheGet_Parallel(b *testing.B) {
	cache := setupBenchCache(b, 100)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			cache.Get("bench.path.050", "")
		}
	})
}

func BenchmarkResolverReading(b *testing.B) {
	store := units.NewStore()
	cache := setupBenchCache(b, 100)
	resolver := NewResolver(store, cache)

	err := store.Update("bench.path.050", units.MetaDescriptor{
		BaseUnit: "m/s",
		Conversions: map[string]units.ConversionSpec{
			"kn": {Formula: "value * 1.94384", InverseFormula: "value / 1.94384", Symbol: "kn"},
		},
	})
	if err != nil {
		b.Fatalf("Update() error = %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resolver.Reading("bench.path.050", "")
	}
}
