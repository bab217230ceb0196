package delivery

import "github.com/ignite/campaign-pipeline/internal/domain"

// Partition splits recipients into contiguous batches of at most size.
// Order is preserved, so recipients are always processed in insertion
// order. N recipients yield ceil(N/size) batches.
func Partition(recipients []domain.Recipient, size int) [][]domain.Recipient {
	if size <= 0 {
		size = 1
	}

	var batches [][]domain.Recipient
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[start:end])
	}
	return batches
}
