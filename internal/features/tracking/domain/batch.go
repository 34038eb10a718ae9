package domain

// PlanBatches partitions tracking numbers into consecutive groups of at most
// size elements, preserving input order within and across groups. The final
// group may be shorter. A size <= 0 falls back to BatchSize.
func PlanBatches(numbers []string, size int) [][]string {
	if size <= 0 {
		size = BatchSize
	}
	if len(numbers) == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(numbers)+size-1)/size)
	for start := 0; start < len(numbers); start += size {
		end := start + size
		if end > len(numbers) {
			end = len(numbers)
		}
		batches = append(batches, numbers[start:end])
	}
	return batches
}
