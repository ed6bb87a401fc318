package core

import "context"

// Range is a half-open index interval [Start, End).
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int { return r.End - r.Start }

// LogChunks splits n items geometrically: each chunk takes remaining/divisor
// items (never fewer than minChunk) until at most minChunk remain, and the
// remainder is flushed in minChunk-sized pieces. Early chunks are large so
// workers start on big blocks while the tail balances in small ones.
func LogChunks(n, divisor, minChunk int) []Range {
	if n <= 0 {
		return nil
	}
	if divisor < 2 {
		divisor = 2
	}
	minChunk = max(minChunk, 1)

	var out []Range
	start := 0
	for n-start > minChunk {
		size := max((n-start)/divisor, minChunk)
		out = append(out, Range{Start: start, End: start + size})
		start += size
	}
	for start < n {
		end := min(start+minChunk, n)
		out = append(out, Range{Start: start, End: end})
		start = end
	}
	return out
}

// FlatChunks splits n items into chunkSize pieces; the last may be short.
func FlatChunks(n, chunkSize int) []Range {
	if n <= 0 {
		return nil
	}
	chunkSize = max(chunkSize, 1)
	out := make([]Range, 0, (n+chunkSize-1)/chunkSize)
	for start := 0; start < n; start += chunkSize {
		out = append(out, Range{Start: start, End: min(start+chunkSize, n)})
	}
	return out
}

// ForEachChunked submits one closure per LogChunks range of items to c.
// It does not join.
func ForEachChunked[T any](ctx context.Context, c *Channel, items []T, divisor, minChunk int, fn func(ctx context.Context, chunk []T)) error {
	return submitRanges(ctx, c, items, LogChunks(len(items), divisor, minChunk), fn)
}

// ForEachFlat submits one closure per chunkSize slice of items to c.
// It does not join.
func ForEachFlat[T any](ctx context.Context, c *Channel, items []T, chunkSize int, fn func(ctx context.Context, chunk []T)) error {
	return submitRanges(ctx, c, items, FlatChunks(len(items), chunkSize), fn)
}

func submitRanges[T any](ctx context.Context, c *Channel, items []T, ranges []Range, fn func(ctx context.Context, chunk []T)) error {
	for _, r := range ranges {
		chunk := items[r.Start:r.End:r.End]
		if err := c.Submit(ctx, func(ctx context.Context) { fn(ctx, chunk) }); err != nil {
			return err
		}
	}
	return nil
}
