// Package partition splits ordered work into bounded, order-preserving chunks.
package partition

// Chunk splits items into consecutive slices of at most size elements,
// preserving order. A size <= 0 yields a single chunk holding every item.
// An empty input yields no chunks.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
