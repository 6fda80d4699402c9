package fetcher

// Changed reports whether curr differs from prev. An empty snapshot on either
// side never counts as a change, so the first observation of a page is silent.
// No normalization is applied: any byte difference is a change.
func Changed(prev, curr string) bool {
	return prev != "" && curr != "" && prev != curr
}
