package ranking

// PageSize is the number of items per feed page.
const PageSize = 30

// ClampPage floors p at zero.
func ClampPage(p int) int {
	if p < 0 {
		return 0
	}
	return p
}

// Page returns items[p*size : p*size+size], or an empty slice past the end.
// A non-positive size falls back to PageSize.
func Page[T any](items []T, p, size int) []T {
	if size <= 0 {
		size = PageSize
	}
	p = ClampPage(p)
	if p >= (len(items)+size-1)/size {
		return []T{}
	}
	start := p * size
	return items[start:min(start+size, len(items))]
}

// Start returns the index of the first item on page p, or 0 when the page is empty.
func Start(total, p, size int) int {
	if size <= 0 {
		size = PageSize
	}
	p = ClampPage(p)
	if p >= (total+size-1)/size {
		return 0
	}
	return p * size
}

// HasNext reports whether a page after p exists.
func HasNext(total, p, size int) bool {
	if size <= 0 {
		size = PageSize
	}
	return ClampPage(p) < (total-1)/size
}
