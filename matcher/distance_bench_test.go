package matcher

import (
	"context"
	"math/rand"
	"testing"
)

func BenchmarkDistance16(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	xs := randomTrack(rng, 4096, 1<<16)
	ys := randomTrack(rng, 4096, 1<<16)
	b.ResetTimer()
	var sink uint32
	for i := 0; i < b.N; i++ {
		j := i & 4095
		sink += Distance(xs[j], ys[j], 1<<16)
	}
	_ = sink
}

func BenchmarkBuildDiffMap(b *testing.B) {
	rng := rand.New(rand.NewSource(2))
	parent := randomTrack(rng, 1<<16, 1<<16)
	children := make([]Track, 8)
	for i := range children {
		children[i] = randomTrack(rng, 1<<16, 1<<16)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := BuildDiffMap(context.Background(), parent, children, 1<<16); err != nil {
			b.Fatal(err)
		}
	}
}
