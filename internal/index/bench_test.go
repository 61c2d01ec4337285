package index

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkSearch(b *testing.B) {
	ctx := context.Background()
	entries := randomEntries(20000, 384, 1)
	query := randomEntries(1, 384, 2)[0].Vector

	for _, cfg := range []Config{
		{Type: TypeFlat},
		{Type: TypeIVF, NProbe: 8},
	} {
		idx, err := Build(ctx, cfg, entries)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(fmt.Sprintf("%s-k10", cfg.Type), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := idx.Search(ctx, query, 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
