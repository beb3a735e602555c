package cpcd

import "time"

func SLEEP_MS(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Command buffers are padded to the next 8 byte boundary so bulk copies
// never read past the end of the allocation.
func pad_to_8(n int) int {
	return (n + 7) &^ 7
}
