package toolindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	require.Equal(t, []string{"find", "my", "*.go", "files"}, tokenize("Find my *.go files!"))
	require.Equal(t, []string{"git.smart_commit"}, tokenize("git.smart_commit"))
	require.Equal(t, []string{"changes"}, tokenize("changes."))
	require.Empty(t, tokenize("—"))
	require.Empty(t, tokenize(""))
}

func TestKeywordIndexRanksMatchingTool(t *testing.T) {
	idx := newKeywordIndex()
	idx.upsert(rowFromDescriptor(&ToolDescriptor{
		ToolName:        "git.smart_commit",
		SkillName:       "git",
		Description:     "Commit staged changes with a generated message.",
		RoutingKeywords: []string{"git", "commit"},
	}, 4))
	idx.upsert(rowFromDescriptor(&ToolDescriptor{
		ToolName:        "file.save",
		SkillName:       "file",
		Description:     "Save a file to disk.",
		RoutingKeywords: []string{"file", "save"},
	}, 4))

	hits := idx.search("commit")
	require.NotEmpty(t, hits)
	require.Equal(t, "git.smart_commit", hits[0].docID)

	hits = idx.search("save")
	require.NotEmpty(t, hits)
	require.Equal(t, "file.save", hits[0].docID)
}

func TestKeywordIndexBareCommandMatchesToolName(t *testing.T) {
	idx := newKeywordIndex()
	idx.upsert(rowFromDescriptor(&ToolDescriptor{
		ToolName:  "git.rebase",
		SkillName: "git",
	}, 4))

	require.NotEmpty(t, idx.search("rebase"))
	require.NotEmpty(t, idx.search("git.rebase"))
}

func TestKeywordIndexEmptyQuery(t *testing.T) {
	idx := newKeywordIndex()
	require.Empty(t, idx.search(""))
	require.Empty(t, idx.search("   "))
}
