package session

// MaxStatusWidth is the widest status line the display accepts
const MaxStatusWidth = 80

// Chunk splits s into pieces of at most width runes
func Chunk(s string, width int) []string {
	if width <= 0 {
		width = MaxStatusWidth
	}
	runes := []rune(s)
	if len(runes) <= width {
		return []string{s}
	}

	chunks := make([]string, 0, len(runes)/width+1)
	for len(runes) > width {
		chunks = append(chunks, string(runes[:width]))
		runes = runes[width:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
