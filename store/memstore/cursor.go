package memstore

import "strconv"

// parseCursor and formatCursor encode List's pagination cursor as a plain
// decimal offset into the run's in-memory event slice. A malformed or
// empty cursor is treated as the start of the log.
func parseCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func formatCursor(offset int) string {
	return strconv.Itoa(offset)
}
