package xstrings

// UniqueSlice returns s without duplicates, keeping first occurrences in
// order.
func UniqueSlice[T comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	list := make([]T, 0, len(s))
	for _, entry := range s {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		list = append(list, entry)
	}
	return list
}
