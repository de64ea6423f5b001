package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Q3 roadmap: ship search  v2", "Q3 roadmap: ship search  v2"},
		{"paragraphs become lines", "<p>First</p><p>Second</p>", "First\nSecond"},
		{"entities decoded", "<div>R&amp;D &lt;draft&gt;</div>", "R&D <draft>"},
		{"script and style dropped", "<style>p{}</style><p>kept</p><script>alert(1)</script>", "kept"},
		{"list items", "<ul><li>one</li><li>two</li></ul>", "one\ntwo"},
		{"line breaks", "a<br>b<br/>c", "a\nb\nc"},
		{"inline tags flattened", "<p>The <b>Q3</b> plan</p>", "The Q3 plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", Clip("abc", 5))
	assert.Equal(t, "ab", Clip("abc", 2))
	assert.Equal(t, "知识", Clip("知识图谱", 2))
	assert.Equal(t, "", Clip("abc", 0))
}
