package testing

// Pairs pairs the first id with each of the others,
// e.g. [a, b, c] -> [[a, b], [a, c]]
func Pairs(ids []string) [][2]string {
	if len(ids) < 2 {
		return nil
	}

	pairs := make([][2]string, 0, len(ids)-1)
	for i := 1; i < len(ids); i++ {
		pairs = append(pairs, [2]string{ids[0], ids[i]})
	}

	return pairs
}

// Swap returns the pair in the opposite direction
func Swap(p [2]string) [2]string {
	return [2]string{p[1], p[0]}
}
