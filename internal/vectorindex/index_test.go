package vectorindex

import (
	"context"
	"testing"
)

func unit(x, y float32) []float32 {
	return []float32{x, y}
}

func TestAddAndKNNReturnsNearestFirst(t *testing.T) {
	idx := New(2, 10, 48, 200)
	ctx := context.Background()

	vectors := [][]float32{
		unit(1, 0),
		unit(0, 1),
		unit(0.99, 0.01),
	}
	contents := []string{"east", "north", "almost-east"}
	metadata := []map[string]string{
		{"source_info": "a"},
		{"source_info": "b"},
		{"source_info": "c"},
	}

	ids, err := idx.Add(ctx, vectors, contents, metadata)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[1] != 1 || ids[2] != 2 {
		t.Fatalf("Add ids = %v, want sequential [0 1 2]", ids)
	}

	gotIDs, distances, err := idx.KNN(ctx, unit(1, 0), 2)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	if len(gotIDs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(gotIDs))
	}
	if gotIDs[0] != 0 {
		t.Errorf("nearest neighbor id = %d, want 0 (the identical vector)", gotIDs[0])
	}
	for i := 1; i < len(distances); i++ {
		if distances[i] < distances[i-1] {
			t.Errorf("distances not non-decreasing: %v", distances)
		}
	}
}

func TestAddRejectsCapacityOverflow(t *testing.T) {
	idx := New(2, 1, 48, 200)
	ctx := context.Background()

	_, err := idx.Add(ctx, [][]float32{unit(1, 0), unit(0, 1)}, []string{"a", "b"}, []map[string]string{{}, {}})
	if err == nil {
		t.Fatal("expected capacity overflow error")
	}
}

func TestAddRejectsDimensionMismatch(t *testing.T) {
	idx := New(2, 10, 48, 200)
	ctx := context.Background()

	_, err := idx.Add(ctx, [][]float32{{1, 2, 3}}, []string{"bad"}, []map[string]string{{}})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestKNNOnEmptyIndex(t *testing.T) {
	idx := New(2, 10, 48, 200)
	ids, distances, err := idx.KNN(context.Background(), unit(1, 0), 4)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	if ids != nil || distances != nil {
		t.Errorf("expected nil results on empty index, got ids=%v distances=%v", ids, distances)
	}
}

func TestKNNClampsKToSize(t *testing.T) {
	idx := New(2, 10, 48, 200)
	ctx := context.Background()
	idx.Add(ctx, [][]float32{unit(1, 0)}, []string{"only"}, []map[string]string{{}})

	ids, _, err := idx.KNN(ctx, unit(1, 0), 10)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected k clamped to index size 1, got %d results", len(ids))
	}
}
