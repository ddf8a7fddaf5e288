package depgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEdgesCSV_Headerless(t *testing.T) {
	edges, err := ParseEdgesCSV(strings.NewReader("10,12\n1,3\n2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []Edge{{10, 12}, {1, 3}, {2, 3}}, edges)
}

func TestParseEdgesCSV_RecognizedHeaderTokens(t *testing.T) {
	for _, header := range []string{
		"from,to", "src,dst", "blocker,blocked", "prereq,dependent",
		"FROM,TO", "Blocker,Blocked",
	} {
		t.Run(header, func(t *testing.T) {
			edges, err := ParseEdgesCSV(strings.NewReader(header + "\n10,12\n"))
			require.NoError(t, err)
			assert.Equal(t, []Edge{{10, 12}}, edges)
		})
	}
}

func TestParseEdgesCSV_UnrecognizedHeaderAndMalformedRow(t *testing.T) {
	edges, err := ParseEdgesCSV(strings.NewReader("alpha,beta\nfoo,bar\n"))
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestParseEdgesCSV_CommentsAndBlankLinesIgnored(t *testing.T) {
	edges, err := ParseEdgesCSV(strings.NewReader("# comment\n\n10,12\n# another\n\n1,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []Edge{{10, 12}, {1, 3}}, edges)
}

func TestParseEdgesCSV_MalformedRowSkippedNotFatal(t *testing.T) {
	edges, err := ParseEdgesCSV(strings.NewReader("10,12\nbogus\nx,y\n2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []Edge{{10, 12}, {2, 3}}, edges)
}
