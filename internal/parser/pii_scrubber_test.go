package parser

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-analyzer-go/internal/types"
)

func TestScrub_EmailInSkillRedactedInPlace(t *testing.T) {
	scrubber := NewPIIScrubber()
	result := &types.AnalysisResult{
		Skills:   []string{"React (contact: jane.doe@example.com)", "Go"},
		FitScore: 7,
	}

	scrubbed := scrubber.Scrub(result)

	// 技能保留，命中片段原位替换
	require.Len(t, scrubbed.Skills, 2)
	assert.Equal(t, "React (contact: [REDACTED Email])", scrubbed.Skills[0])
	assert.Equal(t, "Go", scrubbed.Skills[1])
	assert.NotContains(t, strings.Join(scrubbed.Skills, " "), "jane.doe@example.com")
}

func TestScrub_PhoneInSkillRedacted(t *testing.T) {
	scrubber := NewPIIScrubber()
	result := &types.AnalysisResult{
		Skills:   []string{"Sales +1 415-555-0123 outreach"},
		FitScore: 5,
	}

	scrubbed := scrubber.Scrub(result)
	assert.Contains(t, scrubbed.Skills[0], "[REDACTED Phone]")
	assert.NotContains(t, scrubbed.Skills[0], "415-555-0123")
}

func TestScrub_NarrativeFieldsWarnButKeepText(t *testing.T) {
	scrubber := NewPIIScrubber()
	result := &types.AnalysisResult{
		Education: []types.EducationEntry{
			{Degree: "B.Sc.", Institution: "MIT (alumni@mit.edu)"},
		},
		Justification: "Reach the candidate at 555-123-4567 for details.",
		FitScore:      6,
	}

	scrubbed := scrubber.Scrub(result)

	// 叙述性字段文本不改写，只追加告警
	assert.Equal(t, "MIT (alumni@mit.edu)", scrubbed.Education[0].Institution)
	assert.Equal(t, result.Justification, scrubbed.Justification)
	assert.Contains(t, scrubbed.Warnings, "Possible Email detected in education institution")
	assert.Contains(t, scrubbed.Warnings, "Possible Phone detected in justification")
}

func TestScrub_WarningsDeduplicated(t *testing.T) {
	scrubber := NewPIIScrubber()
	result := &types.AnalysisResult{
		Education: []types.EducationEntry{
			{Institution: "a@x.com"},
			{Institution: "b@y.com"},
		},
		Warnings: []string{"Possible Email detected in education institution"},
		FitScore: 4,
	}

	scrubbed := scrubber.Scrub(result)

	count := 0
	for _, w := range scrubbed.Warnings {
		if w == "Possible Email detected in education institution" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestScrub_Idempotent(t *testing.T) {
	scrubber := NewPIIScrubber()
	result := &types.AnalysisResult{
		Skills: []string{"React jane@example.com", "Call 555-123-4567"},
		Education: []types.EducationEntry{
			{Institution: "School (admissions@school.edu)"},
		},
		Justification: "Contact 555-987-6543.",
		Warnings:      []string{"Missing Node"},
		FitScore:      6,
	}

	once := scrubber.Scrub(result)
	twice := scrubber.Scrub(once)

	// 再次清洗不产生新的改动或告警
	assert.Equal(t, once, twice)
}

func TestScrub_InputUnmodified(t *testing.T) {
	scrubber := NewPIIScrubber()
	result := &types.AnalysisResult{
		Skills:   []string{"React jane@example.com"},
		FitScore: 6,
	}

	_ = scrubber.Scrub(result)
	assert.Equal(t, "React jane@example.com", result.Skills[0])
}

func TestScrub_CustomDetector(t *testing.T) {
	scrubber := NewPIIScrubber(Detector{
		Label:   "Badge",
		Pattern: regexp.MustCompile(`EMP-\d{6}`),
	})
	result := &types.AnalysisResult{
		Skills:   []string{"Access control EMP-123456"},
		FitScore: 5,
	}

	scrubbed := scrubber.Scrub(result)
	assert.Equal(t, "Access control [REDACTED Badge]", scrubbed.Skills[0])
}

func TestScrub_NilAndCleanResults(t *testing.T) {
	scrubber := NewPIIScrubber()

	assert.Nil(t, scrubber.Scrub(nil))

	clean := &types.AnalysisResult{
		Skills:        []string{"Go", "Kubernetes"},
		Justification: "strong backend profile",
		FitScore:      8,
	}
	scrubbed := scrubber.Scrub(clean)
	assert.Equal(t, clean, scrubbed)
}
