package vector

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	got, err := Normalize([]float32{3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("unexpected normalized vector: %v", got)
	}

	if _, err := Normalize([]float32{0, 0, 0}); !errors.Is(err, ErrZeroVector) {
		t.Errorf("expected ErrZeroVector, got %v", err)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 1}, []float32{2, 2}, 1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestMemoryIndex_QueryOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	_ = idx.Upsert(ctx, "c", "far", []float32{0, 1})
	_ = idx.Upsert(ctx, "c", "near", []float32{1, 0})
	_ = idx.Upsert(ctx, "c", "mid", mustNormalize(t, []float32{1, 1}))
	_ = idx.Upsert(ctx, "other", "x", []float32{1, 0})

	got, err := idx.Query(ctx, "c", []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}

	ids := []string{}
	for _, n := range got {
		ids = append(ids, n.ID)
	}
	if diff := cmp.Diff([]string{"near", "mid"}, ids); diff != "" {
		t.Errorf("neighbors mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryIndex_Delete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	_ = idx.Upsert(ctx, "c", "a", []float32{1, 0})
	_ = idx.Delete(ctx, "c", "a")
	if idx.Len("c") != 0 {
		t.Errorf("expected empty collection, got %d", idx.Len("c"))
	}
}

func TestMemoryIndex_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryIndex().Query(ctx, "c", []float32{1}, 1); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestPackRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	if diff := cmp.Diff(in, Unpack(Pack(in))); diff != "" {
		t.Errorf("pack/unpack mismatch:\n%s", diff)
	}
}

func TestRedisIndex_KeyPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "sentinel:vectors:items"},
		{"sentinel:vectors", "sentinel:vectors:items"},
		{"custom:", "custom:items"},
	}
	for _, tt := range tests {
		if got := NewRedisIndex(nil, tt.prefix).key("items"); got != tt.want {
			t.Errorf("NewRedisIndex(%q).key(items) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func mustNormalize(t *testing.T, v []float32) []float32 {
	t.Helper()
	out, err := Normalize(v)
	if err != nil {
		t.Fatal(err)
	}
	return out
}
