package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-analyzer-go/internal/constants"
	"resume-analyzer-go/internal/storage/models"
)

func completedDoc(uuid string, score int) models.ResumeDocument {
	return models.ResumeDocument{
		DocumentUUID:     uuid,
		OriginalFilename: uuid + ".pdf",
		ProcessingStatus: constants.StatusCompleted,
		Score:            &score,
	}
}

func TestRankCandidates_TopFractionFlagged(t *testing.T) {
	docs := []models.ResumeDocument{
		completedDoc("a", 9),
		completedDoc("b", 7),
		completedDoc("c", 7),
		completedDoc("d", 5),
		completedDoc("e", 2),
	}

	ranked := RankCandidates(docs)
	require.Len(t, ranked, 5)

	// 5人取前20%，恰好标记第一名；并列7分者按位置区分
	assert.True(t, ranked[0].Standout)
	for _, c := range ranked[1:] {
		assert.False(t, c.Standout, "candidate %s should not be standout", c.DocumentID)
	}
	assert.Equal(t, 9, ranked[0].Score)
	assert.Equal(t, "a", ranked[0].DocumentID)
}

func TestRankCandidates_SingleCandidateIsStandout(t *testing.T) {
	ranked := RankCandidates([]models.ResumeDocument{completedDoc("only", 3)})
	require.Len(t, ranked, 1)
	assert.True(t, ranked[0].Standout)
}

func TestRankCandidates_TenCandidatesFlagTwo(t *testing.T) {
	var docs []models.ResumeDocument
	for i := 0; i < 10; i++ {
		docs = append(docs, completedDoc(string(rune('a'+i)), 10-i))
	}

	ranked := RankCandidates(docs)
	standouts := 0
	for _, c := range ranked {
		if c.Standout {
			standouts++
		}
	}
	assert.Equal(t, 2, standouts)
	assert.True(t, ranked[0].Standout)
	assert.True(t, ranked[1].Standout)
}

func TestRankCandidates_Empty(t *testing.T) {
	ranked := RankCandidates(nil)
	assert.NotNil(t, ranked)
	assert.Empty(t, ranked)
}

func TestRankJobCandidates_ReadsFromStore(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	docs.completed["job-1"] = []models.ResumeDocument{
		completedDoc("a", 8),
		completedDoc("b", 4),
	}
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	ranked, err := orch.RankJobCandidates(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.True(t, ranked[0].Standout)
	assert.False(t, ranked[1].Standout)
	assert.Equal(t, "a.pdf", ranked[0].OriginalFilename)
}
