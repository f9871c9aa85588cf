// Package group aggregates adjacent chunks into size-bounded semantic groups
// so retrieval returns coherent passages instead of fragments.
package group

import (
	"fmt"

	"github.com/docquill/docquill/internal/store"
)

// Config bounds group sizes in characters. TargetChars is where a group
// closes under normal growth; MaxChars is the hard ceiling; a trailing group
// under MinChars is merged backward.
type Config struct {
	TargetChars int
	MinChars    int
	MaxChars    int
}

// DefaultConfig returns the default grouping bounds.
func DefaultConfig() Config {
	return Config{TargetChars: 1200, MinChars: 300, MaxChars: 2000}
}

// Build aggregates consecutive chunks greedily: a group grows until it
// reaches TargetChars; a chunk that would push it past MaxChars closes the
// group first, even below target. An undersized final group is merged into
// the previous one unless it is the document's only group. Groups partition
// the chunk sequence with no gaps and no overlap.
func Build(docID string, chunks []*store.Chunk, cfg Config) []*store.SemanticGroup {
	if len(chunks) == 0 {
		return []*store.SemanticGroup{}
	}

	var groups []*store.SemanticGroup
	var indices []int
	var text string

	flush := func() {
		if len(indices) == 0 {
			return
		}
		groups = append(groups, &store.SemanticGroup{
			ID:           fmt.Sprintf("g%d", len(groups)),
			DocID:        docID,
			ChunkIndices: indices,
			Text:         text,
			CharCount:    len([]rune(text)),
		})
		indices = nil
		text = ""
	}

	for _, chunk := range chunks {
		chunkLen := len([]rune(chunk.Text))

		// joinedLen is the group's size after appending this chunk,
		// including the newline separator between members.
		joinedLen := chunkLen
		if len(indices) > 0 {
			joinedLen = len([]rune(text)) + 1 + chunkLen
		}

		if len(indices) > 0 && joinedLen > cfg.MaxChars {
			flush()
			joinedLen = chunkLen
		}

		indices = append(indices, chunk.Index)
		if text == "" {
			text = chunk.Text
		} else {
			text += "\n" + chunk.Text
		}

		if joinedLen >= cfg.TargetChars {
			flush()
		}
	}
	flush()

	// Merge an undersized tail backward rather than leaving a fragment,
	// unless it is the only group.
	if len(groups) > 1 {
		last := groups[len(groups)-1]
		if last.CharCount < cfg.MinChars {
			prev := groups[len(groups)-2]
			prev.ChunkIndices = append(prev.ChunkIndices, last.ChunkIndices...)
			prev.Text += "\n" + last.Text
			prev.CharCount = len([]rune(prev.Text))
			groups = groups[:len(groups)-1]
		}
	}

	return groups
}
