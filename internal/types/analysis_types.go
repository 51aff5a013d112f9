package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JobRequirements 分析输入的岗位要求，由岗位子系统维护，本核心只读
type JobRequirements struct {
	JobID          string   `json:"job_id"`
	Description    string   `json:"description"`
	MustHaveSkills []string `json:"must_have_skills"`
	FocusAreas     []string `json:"focus_areas"`
}

// EducationEntry 教育经历条目
type EducationEntry struct {
	Degree         string `json:"degree"`
	Institution    string `json:"institution"`
	GraduationYear *int   `json:"graduationYear"`
}

// FlexibleYears 工作年限字段
// LLM的回复中该字段可能是整数(3)、范围字符串("3-5")、开放字符串("10+")或null，
// 反序列化时统一归一为字符串表示，null保持空值
type FlexibleYears struct {
	Value string
	Valid bool
}

// UnmarshalJSON 容忍数字、字符串和null三种形态
func (fy *FlexibleYears) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		fy.Value = ""
		fy.Valid = false
		return nil
	}

	// 字符串形态: "3-5", "10+"
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			fy.Value = ""
			fy.Valid = false
			return nil
		}
		fy.Value = s
		fy.Valid = true
		return nil
	}

	// 数字形态: 3 或 3.5
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			fy.Value = strconv.FormatInt(i, 10)
		} else {
			fy.Value = n.String()
		}
		fy.Valid = true
		return nil
	}

	return fmt.Errorf("yearsExperience 字段格式无法识别: %s", trimmed)
}

// MarshalJSON 有值时输出字符串，无值时输出null
func (fy FlexibleYears) MarshalJSON() ([]byte, error) {
	if !fy.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(fy.Value)
}

// AnalysisResult LLM评估结果经结构校验后的规范形态
// 该结构来自不可信的外部回复，入库前必须先通过结构校验再经过PII清洗
type AnalysisResult struct {
	Skills          []string         `json:"skills"`
	YearsExperience FlexibleYears    `json:"yearsExperience"`
	Education       []EducationEntry `json:"education"`
	FitScore        int              `json:"fitScore"`
	Justification   string           `json:"justification"`
	Warnings        []string         `json:"warnings"`
}

// Clone 返回深拷贝，PII清洗在拷贝上进行以保持输入不变
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	dup := &AnalysisResult{
		YearsExperience: r.YearsExperience,
		FitScore:        r.FitScore,
		Justification:   r.Justification,
	}
	if r.Skills != nil {
		dup.Skills = append([]string(nil), r.Skills...)
	}
	if r.Education != nil {
		dup.Education = append([]EducationEntry(nil), r.Education...)
	}
	if r.Warnings != nil {
		dup.Warnings = append([]string(nil), r.Warnings...)
	}
	return dup
}

// RankedCandidate 岗位读取路径下的单个已完成候选
type RankedCandidate struct {
	DocumentID       string `json:"document_id"`
	OriginalFilename string `json:"original_filename"`
	Score            int    `json:"score"`
	Standout         bool   `json:"standout"`
}
