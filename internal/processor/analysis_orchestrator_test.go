package processor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"resume-analyzer-go/internal/constants"
	"resume-analyzer-go/internal/parser"
	"resume-analyzer-go/internal/storage"
	"resume-analyzer-go/internal/storage/models"
	"resume-analyzer-go/internal/types"
)

// memDocumentStore 内存文档存储，状态推进语义与MySQL实现一致
type memDocumentStore struct {
	mu        sync.Mutex
	docs      map[string]*models.ResumeDocument
	jobs      map[string]*types.JobRequirements
	completed map[string][]models.ResumeDocument
	analyses  map[string]*types.AnalysisResult
	outbox    []*models.OutboxMessage
	textPaths map[string]string
	// transitionErrOn 非空时，推进到该状态的调用返回注入的数据库错误
	transitionErrOn string
	getDocCalls     int
}

func newMemDocumentStore() *memDocumentStore {
	return &memDocumentStore{
		docs:      make(map[string]*models.ResumeDocument),
		jobs:      make(map[string]*types.JobRequirements),
		completed: make(map[string][]models.ResumeDocument),
		analyses:  make(map[string]*types.AnalysisResult),
		textPaths: make(map[string]string),
	}
}

func (s *memDocumentStore) GetDocumentStatus(_ context.Context, uuid string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uuid]
	if !ok {
		return "", storage.ErrDocumentNotFound
	}
	return doc.ProcessingStatus, nil
}

func (s *memDocumentStore) GetResumeDocument(_ context.Context, uuid string) (*models.ResumeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getDocCalls++
	doc, ok := s.docs[uuid]
	if !ok {
		return nil, storage.ErrDocumentNotFound
	}
	dup := *doc
	return &dup, nil
}

func (s *memDocumentStore) TransitionStatus(_ context.Context, uuid string, expected []string, next string, _ map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErrOn != "" && next == s.transitionErrOn {
		return false, assert.AnError
	}
	doc, ok := s.docs[uuid]
	if !ok {
		return false, nil
	}
	for _, status := range expected {
		if doc.ProcessingStatus == status {
			doc.ProcessingStatus = next
			return true, nil
		}
	}
	return false, nil
}

func (s *memDocumentStore) MarkCompleted(_ context.Context, uuid string, score int, analysis *types.AnalysisResult, event *models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[uuid]
	if doc == nil || doc.ProcessingStatus != constants.StatusProcessing {
		return assert.AnError
	}
	doc.ProcessingStatus = constants.StatusCompleted
	doc.Score = &score
	doc.ErrorDetails = ""
	s.analyses[uuid] = analysis
	if event != nil {
		s.outbox = append(s.outbox, event)
	}
	return nil
}

func (s *memDocumentStore) MarkError(_ context.Context, uuid string, diagnostic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[uuid]
	if doc == nil || doc.ProcessingStatus == constants.StatusCompleted || doc.ProcessingStatus == constants.StatusError {
		return assert.AnError
	}
	doc.ProcessingStatus = constants.StatusError
	doc.ErrorDetails = diagnostic
	return nil
}

func (s *memDocumentStore) SetExtractedTextPath(_ context.Context, uuid string, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textPaths[uuid] = path
	return nil
}

func (s *memDocumentStore) GetJobRequirements(_ context.Context, jobID string) (*types.JobRequirements, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	return req, nil
}

func (s *memDocumentStore) GetCompletedDocumentsByJob(_ context.Context, jobID string) ([]models.ResumeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[jobID], nil
}

func (s *memDocumentStore) CreateOutboxMessage(_ *gorm.DB, msg *models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, msg)
	return nil
}

type memFileStore struct {
	content      []byte
	downloadErr  error
	uploadedText string
}

func (f *memFileStore) GetResumeFile(_ context.Context, _ string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.content, nil
}

func (f *memFileStore) UploadExtractedText(_ context.Context, uuid string, text string) (string, error) {
	f.uploadedText = text
	return uuid + ".txt", nil
}

type stubExtractor struct {
	text string
	err  error
}

func (e *stubExtractor) Extract(_ []byte, _ string) (string, error) {
	return e.text, e.err
}

type stubInvoker struct {
	result   *types.AnalysisResult
	attempts int
	err      error
	calls    int
}

func (i *stubInvoker) Invoke(_ context.Context, _ string, _ string) (*types.AnalysisResult, int, error) {
	i.calls++
	return i.result, i.attempts, i.err
}

func jobIDPtr(id string) *string { return &id }

func newTestSetup(t *testing.T) (*memDocumentStore, *memFileStore, *stubExtractor, *stubInvoker, Settings) {
	t.Helper()
	docs := newMemDocumentStore()
	docs.docs["doc-1"] = &models.ResumeDocument{
		DocumentUUID:        "doc-1",
		JobID:               jobIDPtr("job-1"),
		OriginalFilename:    "candidate.pdf",
		MediaType:           "application/pdf",
		OriginalFilePathOSS: "doc-1.pdf",
		ProcessingStatus:    constants.StatusUploaded,
	}
	docs.jobs["job-1"] = &types.JobRequirements{
		JobID:          "job-1",
		Description:    "Backend engineer",
		MustHaveSkills: []string{"Go"},
	}
	files := &memFileStore{content: []byte("%PDF-1.4 fake")}
	extractor := &stubExtractor{text: "Seasoned Go developer with five years of backend work."}
	invoker := &stubInvoker{
		result: &types.AnalysisResult{
			Skills:          []string{"Go", "React"},
			YearsExperience: types.FlexibleYears{Value: "5", Valid: true},
			FitScore:        6,
			Justification:   "solid backend background",
			Warnings:        []string{"Missing Node"},
		},
		attempts: 1,
	}
	set := Settings{CompletedExchange: "resume.events.exchange", CompletedRoutingKey: "resume.analysis.completed"}
	return docs, files, extractor, invoker, set
}

func newOrchestrator(t *testing.T, docs *memDocumentStore, files *memFileStore, extractor *stubExtractor, invoker *stubInvoker, set Settings) *AnalysisOrchestrator {
	t.Helper()
	orch, err := NewAnalysisOrchestrator(Components{
		Documents: docs,
		Files:     files,
		Extractor: extractor,
		Invoker:   invoker,
	}, set)
	require.NoError(t, err)
	return orch
}

func TestAnalyze_Success(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	err := orch.Analyze(context.Background(), &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-1"})
	require.NoError(t, err)

	doc := docs.docs["doc-1"]
	assert.Equal(t, constants.StatusCompleted, doc.ProcessingStatus)
	require.NotNil(t, doc.Score)
	assert.Equal(t, 6, *doc.Score)
	assert.Empty(t, doc.ErrorDetails)

	// 提取文本落盘并记录路径
	assert.Equal(t, extractor.text, files.uploadedText)
	assert.Equal(t, "doc-1.txt", docs.textPaths["doc-1"])

	// 完成事件进入发件箱
	require.Len(t, docs.outbox, 1)
	assert.Equal(t, "doc-1", docs.outbox[0].AggregateID)
	assert.Equal(t, "resume.events.exchange", docs.outbox[0].TargetExchange)
	assert.Contains(t, docs.outbox[0].Payload, `"status":"COMPLETED"`)
	assert.Contains(t, docs.outbox[0].Payload, `"fit_score":6`)

	result := docs.analyses["doc-1"]
	require.NotNil(t, result)
	assert.Contains(t, result.Warnings, "Missing Node")
}

func TestAnalyze_SkipsActiveDocument(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	docs.docs["doc-1"].ProcessingStatus = constants.StatusProcessing
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	err := orch.Analyze(context.Background(), &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-1"})
	require.NoError(t, err)

	// 在途文档在状态预检处跳过，完整记录与模型都不触碰
	assert.Equal(t, 0, invoker.calls)
	assert.Equal(t, 0, docs.getDocCalls)
	assert.Equal(t, constants.StatusProcessing, docs.docs["doc-1"].ProcessingStatus)
}

func TestAnalyze_CompletedDocumentStaysCompleted(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	score := 8
	docs.docs["doc-1"].ProcessingStatus = constants.StatusCompleted
	docs.docs["doc-1"].Score = &score
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	err := orch.Analyze(context.Background(), &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-1"})
	require.NoError(t, err)

	assert.Equal(t, 0, invoker.calls)
	assert.Equal(t, 0, docs.getDocCalls)
	assert.Equal(t, constants.StatusCompleted, docs.docs["doc-1"].ProcessingStatus)
	assert.Equal(t, 8, *docs.docs["doc-1"].Score)
}

func TestAnalyze_UnknownDocumentDropsMessage(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	err := orch.Analyze(context.Background(), &storage.AnalysisTaskMessage{DocumentUUID: "doc-missing"})
	require.NoError(t, err)
	assert.Equal(t, 0, invoker.calls)
}

func TestAnalyze_JobMissing(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	docs.docs["doc-1"].JobID = jobIDPtr("job-gone")
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	err := orch.Analyze(context.Background(), &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-gone"})
	require.NoError(t, err)

	doc := docs.docs["doc-1"]
	assert.Equal(t, constants.StatusError, doc.ProcessingStatus)
	assert.Equal(t, constants.DiagJobMissing, doc.ErrorDetails)
	assert.Equal(t, 0, invoker.calls)

	// 错误事件同样通过发件箱投递
	require.Len(t, docs.outbox, 1)
	assert.Contains(t, docs.outbox[0].Payload, `"status":"ERROR"`)
}

func TestAnalyze_ExtractionFailure(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	extractor.err = parser.NewExtractionError("doc-1", "no text layer")
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	err := orch.Analyze(context.Background(), &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-1"})
	require.NoError(t, err)

	doc := docs.docs["doc-1"]
	assert.Equal(t, constants.StatusError, doc.ProcessingStatus)
	assert.Equal(t, constants.DiagExtractionFailed, doc.ErrorDetails)
	assert.Equal(t, 0, invoker.calls)
}

func TestAnalyze_QuotaFailure(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	invoker.result = nil
	invoker.attempts = 1
	invoker.err = parser.NewQuotaError("doc-1", "insufficient_quota")
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	err := orch.Analyze(context.Background(), &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-1"})
	require.NoError(t, err)

	doc := docs.docs["doc-1"]
	assert.Equal(t, constants.StatusError, doc.ProcessingStatus)
	assert.Equal(t, constants.DiagQuotaExhausted, doc.ErrorDetails)
	assert.Equal(t, 1, invoker.calls)
}

func TestAnalyze_MalformedReplyFailure(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	invoker.result = nil
	invoker.attempts = 4
	invoker.err = parser.NewMalformedReplyError("doc-1", "fitScore missing")
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	err := orch.Analyze(context.Background(), &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-1"})
	require.NoError(t, err)

	assert.Equal(t, constants.DiagMalformedReply, docs.docs["doc-1"].ErrorDetails)
}

func TestAnalyze_TransientDownloadFailureRecoversOnRedelivery(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	files.downloadErr = assert.AnError
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	msg := &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-1"}

	// 下载失败返回error触发重投递，文档退回UPLOADED而不是滞留EXTRACTING
	err := orch.Analyze(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, constants.StatusUploaded, docs.docs["doc-1"].ProcessingStatus)
	assert.Equal(t, 0, invoker.calls)

	// 故障恢复后重投递的消息重新赢得准入并完成分析
	files.downloadErr = nil
	err = orch.Analyze(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, docs.docs["doc-1"].ProcessingStatus)
	assert.Equal(t, 1, invoker.calls)
}

func TestAnalyze_TransientTransitionFailureRevertsAdmission(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	docs.transitionErrOn = constants.StatusProcessing
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	msg := &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-1"}

	err := orch.Analyze(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, constants.StatusUploaded, docs.docs["doc-1"].ProcessingStatus)

	docs.transitionErrOn = ""
	err = orch.Analyze(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, docs.docs["doc-1"].ProcessingStatus)
}

func TestAnalyze_ScrubsPIIFromSkills(t *testing.T) {
	docs, files, extractor, invoker, set := newTestSetup(t)
	invoker.result.Skills = []string{"Go (contact: jane.doe@example.com)"}
	orch := newOrchestrator(t, docs, files, extractor, invoker, set)

	err := orch.Analyze(context.Background(), &storage.AnalysisTaskMessage{DocumentUUID: "doc-1", TargetJobID: "job-1"})
	require.NoError(t, err)

	result := docs.analyses["doc-1"]
	require.NotNil(t, result)
	require.Len(t, result.Skills, 1)
	assert.NotContains(t, result.Skills[0], "jane.doe@example.com")
	assert.Contains(t, result.Skills[0], "[REDACTED Email]")
}
