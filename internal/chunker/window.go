package chunker

// window is a line range of content produced by the sliding-window split.
// Lines are 1-based relative to the input slice.
type window struct {
	text      string
	startLine int
	endLine   int
}

// splitWindows splits lines into windows of at most maxSize bytes with
// roughly overlap bytes of trailing context carried into the next window.
//
// The split is purely a function of its inputs: no randomness, no clock, no
// allocation-order dependence. A single line longer than maxSize becomes its
// own window rather than being cut mid-line.
func splitWindows(lines []string, maxSize, overlap int) []window {
	var windows []window

	var current []string
	currentSize := 0
	startLine := 1

	flush := func(endLine int) {
		if len(current) == 0 {
			return
		}
		windows = append(windows, window{
			text:      joinLines(current),
			startLine: startLine,
			endLine:   endLine,
		})

		// Carry up to overlap bytes of trailing lines into the next window.
		var kept []string
		keptSize := 0
		for i := len(current) - 1; i >= 0; i-- {
			lineSize := len(current[i]) + 1
			if keptSize+lineSize > overlap {
				break
			}
			kept = append([]string{current[i]}, kept...)
			keptSize += lineSize
		}
		current = kept
		currentSize = keptSize
		startLine = endLine - len(kept) + 1
	}

	for i, line := range lines {
		lineSize := len(line) + 1
		if currentSize+lineSize > maxSize && len(current) > 0 {
			flush(i)
		}
		current = append(current, line)
		currentSize += lineSize
	}

	// Trailing window, unless it is only the carried overlap repeated.
	if len(current) > 0 {
		last := len(lines)
		if len(windows) == 0 || windows[len(windows)-1].endLine < last {
			windows = append(windows, window{
				text:      joinLines(current),
				startLine: startLine,
				endLine:   last,
			})
		}
	}

	return windows
}

func joinLines(lines []string) string {
	n := 0
	for _, l := range lines {
		n += len(l) + 1
	}
	buf := make([]byte, 0, n)
	for i, l := range lines {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, l...)
	}
	return string(buf)
}
