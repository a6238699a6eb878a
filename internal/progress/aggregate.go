package progress

import "math"

// OverallPercent is the rounded mean percent over the items in order. When
// order is empty every record counts. Items in order without a record count
// as 0.
func OverallPercent(records []Record, order []string) int {
	byID := make(map[string]int, len(records))
	for _, r := range records {
		byID[r.ItemID] = clampPercent(r.Percent)
	}

	var sum, n int
	if len(order) > 0 {
		for _, id := range order {
			sum += byID[id]
			n++
		}
	} else {
		for _, p := range byID {
			sum += p
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return clampPercent(int(math.Round(float64(sum) / float64(n))))
}
