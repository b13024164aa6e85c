// Package batch splits large identifier lists into query-safe chunks.
package batch

// MaxInClauseSize is the maximum number of identifiers bound into a single
// SQL IN-list. Most databases cap parameter lists around this value.
const MaxInClauseSize = 1000

// Split partitions ids into consecutive chunks of at most size elements.
// The last chunk holds the remainder; an empty input produces no chunks.
func Split[T any](ids []T, size int) [][]T {
	if size <= 0 || len(ids) == 0 {
		return nil
	}

	chunks := make([][]T, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// Process applies fn to each chunk of at most size identifiers, stopping at
// the first error.
func Process[T any](ids []T, size int, fn func([]T) error) error {
	for _, chunk := range Split(ids, size) {
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}
