// Package batch splits record sequences into bounded chunks for enrichment calls.
package batch

// Chunk partitions items into ceil(len/size) contiguous chunks of at most size elements.
// Order is preserved and only the last chunk may be shorter. A size below 1 is treated as 1.
// The chunks share the backing array of items.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	if len(items) == 0 {
		return nil
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
