package batching

// Mask builds a batch-major boolean mask of shape (len(lengths), maxLen)
// where mask[i][t] is true for t < lengths[i]. Padding positions are false
// and must stay out of losses, decodes and accuracy counts.
func Mask(lengths []int, maxLen int) [][]bool {
	mask := make([][]bool, len(lengths))
	for i, l := range lengths {
		row := make([]bool, maxLen)
		for t := 0; t < l && t < maxLen; t++ {
			row[t] = true
		}
		mask[i] = row
	}
	return mask
}

// TimeMajorMask builds the transposed mask of shape (maxLen, len(lengths)),
// matching the layout of time-major emission and target tensors.
func TimeMajorMask(lengths []int, maxLen int) [][]bool {
	mask := make([][]bool, maxLen)
	for t := 0; t < maxLen; t++ {
		row := make([]bool, len(lengths))
		for i, l := range lengths {
			row[i] = t < l
		}
		mask[t] = row
	}
	return mask
}

// Truncate cuts every padded row back to its true length. Rows shorter than
// their recorded length are returned as they are.
func Truncate(rows [][]int, lengths []int) [][]int {
	out := make([][]int, len(rows))
	for i, row := range rows {
		l := lengths[i]
		if l > len(row) {
			l = len(row)
		}
		out[i] = row[:l]
	}
	return out
}
