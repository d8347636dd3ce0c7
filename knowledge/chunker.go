package knowledge

import "strings"

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

// ChunkText splits text into windows of at most size words, each sharing
// overlap words with the previous one. Words stand in for tokens.
func ChunkText(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
