package parser

import (
	"fmt"
	"strings"

	"resume-analyzer-go/internal/types"
)

// 分析提示词模板
// 产品面向英文市场，指令和schema示例保持英文以降低回复漂移
const analysisPromptTemplate = `You are an expert technical recruiter. Analyze the resume below against the job requirements and reply with a SINGLE JSON object as your ENTIRE reply. Do not wrap the JSON in markdown fences and do not add any prose before or after it.

**Privacy requirement (mandatory):** the output must NOT contain any personally identifying detail (names, email addresses, phone numbers, street addresses). When a value cannot be safely generalized, substitute the placeholder "[REDACTED]" or omit the field entirely.

**Output schema (follow this shape exactly):**
{
  "skills": ["skill name", "..."],
  "yearsExperience": "3-5",
  "education": [{"degree": "B.Sc. Computer Science", "institution": "[REDACTED]", "graduationYear": null}],
  "fitScore": 7,
  "justification": "short reasoning for the score",
  "warnings": ["warning text", "..."]
}

**Field rules:**
- "fitScore" MUST be an integer between 1 and 10.
- "yearsExperience" may be an integer (3), a range string ("3-5"), an open-ended string ("10+"), or null when indeterminable.
- "warnings" MUST contain an explicit flag for every must-have skill that is absent from the resume, and a flag when the resume's keyword usage reads as superficial relative to the experience described.

**Job description:**
"""
%s
"""

**Resume:**
"""
%s
"""`

// PromptBuilder 确定性地将简历文本与岗位要求渲染为模型指令
// 纯函数，无任何I/O，相同输入产出字节一致的输出
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// Build 渲染分析提示词，must-have技能与关注领域非空时作为加权指令追加
func (b *PromptBuilder) Build(resumeText string, requirements *types.JobRequirements) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(analysisPromptTemplate, requirements.Description, resumeText))

	if len(requirements.MustHaveSkills) > 0 {
		sb.WriteString("\n\n**Must-have skills (weight these heavily, flag each one missing from the resume in \"warnings\"):**\n")
		for _, skill := range requirements.MustHaveSkills {
			sb.WriteString("- ")
			sb.WriteString(skill)
			sb.WriteString("\n")
		}
	}

	if len(requirements.FocusAreas) > 0 {
		sb.WriteString("\n**Focus areas (weigh evidence in these areas above general experience):**\n")
		for _, area := range requirements.FocusAreas {
			sb.WriteString("- ")
			sb.WriteString(area)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
