package partition

import (
	"reflect"
	"testing"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{name: "empty", items: nil, size: 3, want: nil},
		{name: "exact fit", items: []int{1, 2, 3}, size: 3, want: [][]int{{1, 2, 3}}},
		{name: "split with remainder", items: []int{1, 2, 3, 4, 5}, size: 2, want: [][]int{{1, 2}, {3, 4}, {5}}},
		{name: "size one", items: []int{1, 2, 3}, size: 1, want: [][]int{{1}, {2}, {3}}},
		{name: "unlimited", items: []int{1, 2, 3, 4}, size: 0, want: [][]int{{1, 2, 3, 4}}},
		{name: "negative unlimited", items: []int{1, 2}, size: -5, want: [][]int{{1, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.items, tt.size)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunk(%v, %d) = %v, want %v", tt.items, tt.size, got, tt.want)
			}
		})
	}
}

func TestChunk_AppendDoesNotClobberNextChunk(t *testing.T) {
	chunks := Chunk([]int{1, 2, 3, 4}, 2)
	_ = append(chunks[0], 99)
	if chunks[1][0] != 3 {
		t.Errorf("appending to first chunk overwrote second chunk: %v", chunks)
	}
}
