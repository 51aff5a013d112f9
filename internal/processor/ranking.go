package processor

import (
	"context"

	"resume-analyzer-go/internal/constants"
	"resume-analyzer-go/internal/storage/models"
	"resume-analyzer-go/internal/types"
)

// RankCandidates 将COMPLETED文档转换为排名视图
// 输入必须已按分数倒序、UUID正序排好（数据库读取路径保证），
// 前20%按下标位置标记为突出候选，结果非空时至少标记一人
func RankCandidates(docs []models.ResumeDocument) []types.RankedCandidate {
	if len(docs) == 0 {
		return []types.RankedCandidate{}
	}

	standoutCount := int(float64(len(docs)) * constants.StandoutFraction)
	if standoutCount < 1 {
		standoutCount = 1
	}

	ranked := make([]types.RankedCandidate, 0, len(docs))
	for i, doc := range docs {
		score := 0
		if doc.Score != nil {
			score = *doc.Score
		}
		ranked = append(ranked, types.RankedCandidate{
			DocumentID:       doc.DocumentUUID,
			OriginalFilename: doc.OriginalFilename,
			Score:            score,
			Standout:         i < standoutCount,
		})
	}
	return ranked
}

// RankJobCandidates 读取岗位下的COMPLETED文档并排名
func (o *AnalysisOrchestrator) RankJobCandidates(ctx context.Context, jobID string) ([]types.RankedCandidate, error) {
	docs, err := o.comp.Documents.GetCompletedDocumentsByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return RankCandidates(docs), nil
}
