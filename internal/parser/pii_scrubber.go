package parser

import (
	"fmt"
	"regexp"
	"sort"

	"resume-analyzer-go/internal/types"
)

// Detector 一条PII检测策略，Label会出现在脱敏标记与告警文案中
type Detector struct {
	Label   string
	Pattern *regexp.Regexp
}

// DefaultDetectors 内置检测器: 邮箱与电话号码
// 电话模式可能误伤纯数字的技能编号，该取舍作为产品决策保留
func DefaultDetectors() []Detector {
	return []Detector{
		{
			Label:   "Email",
			Pattern: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		},
		{
			Label:   "Phone",
			Pattern: regexp.MustCompile(`(?:\+?\d{1,3}[\s\-.]?)?(?:\(\d{2,4}\)[\s\-.]?)?\d{3,4}[\s\-.]?\d{3,4}(?:[\s\-.]?\d{3,4})?`),
		},
	}
}

// PIIScrubber 对结构化分析结果做二道防线的PII清洗
// 纯转换且幂等: 对已清洗结果再次执行不产生新的改动或告警
type PIIScrubber struct {
	detectors []Detector
}

// NewPIIScrubber 创建清洗器，detectors为空时使用内置集合
func NewPIIScrubber(detectors ...Detector) *PIIScrubber {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &PIIScrubber{detectors: detectors}
}

// Scrub 清洗分析结果，返回新副本，输入保持不变
//   - 技能字符串: 命中片段原位替换为 "[REDACTED {Label}]"，保留技能本身
//   - 院校与评语: 叙述性字段不改写文本，只追加去重后的系统告警
func (s *PIIScrubber) Scrub(result *types.AnalysisResult) *types.AnalysisResult {
	if result == nil {
		return nil
	}
	scrubbed := result.Clone()

	warningSet := make(map[string]bool, len(scrubbed.Warnings))
	for _, w := range scrubbed.Warnings {
		warningSet[w] = true
	}
	var newWarnings []string
	addWarning := func(text string) {
		if !warningSet[text] {
			warningSet[text] = true
			newWarnings = append(newWarnings, text)
		}
	}

	for i, skill := range scrubbed.Skills {
		scrubbed.Skills[i] = s.redact(skill)
	}

	for i, edu := range scrubbed.Education {
		for _, d := range s.detectors {
			if s.matchesOutsideMarkers(d, edu.Institution) {
				addWarning(fmt.Sprintf("Possible %s detected in education institution", d.Label))
			}
		}
		scrubbed.Education[i] = edu
	}

	for _, d := range s.detectors {
		if s.matchesOutsideMarkers(d, scrubbed.Justification) {
			addWarning(fmt.Sprintf("Possible %s detected in justification", d.Label))
		}
	}

	if len(newWarnings) > 0 {
		sort.Strings(newWarnings)
		scrubbed.Warnings = append(scrubbed.Warnings, newWarnings...)
	}
	return scrubbed
}

// redact 将字符串中所有命中片段替换为带标签的脱敏标记
func (s *PIIScrubber) redact(text string) string {
	out := text
	for _, d := range s.detectors {
		marker := "[REDACTED " + d.Label + "]"
		out = replaceOutsideMarkers(d.Pattern, out, marker)
	}
	return out
}

// matchesOutsideMarkers 判断是否存在脱敏标记之外的命中，保证幂等
func (s *PIIScrubber) matchesOutsideMarkers(d Detector, text string) bool {
	if text == "" {
		return false
	}
	found := false
	walkOutsideMarkers(text, func(segment string) {
		if d.Pattern.MatchString(segment) {
			found = true
		}
	})
	return found
}

// markerPattern 已写入的脱敏标记，重复清洗时跳过这些区段
var markerPattern = regexp.MustCompile(`\[REDACTED [A-Za-z]+\]`)

// walkOutsideMarkers 依次回调文本中位于脱敏标记之外的片段
func walkOutsideMarkers(text string, fn func(segment string)) {
	locs := markerPattern.FindAllStringIndex(text, -1)
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			fn(text[prev:loc[0]])
		}
		prev = loc[1]
	}
	if prev < len(text) {
		fn(text[prev:])
	}
}

// replaceOutsideMarkers 只在脱敏标记之外的片段上执行替换
func replaceOutsideMarkers(pattern *regexp.Regexp, text string, marker string) string {
	locs := markerPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return pattern.ReplaceAllString(text, marker)
	}

	var out []byte
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			out = append(out, pattern.ReplaceAllString(text[prev:loc[0]], marker)...)
		}
		out = append(out, text[loc[0]:loc[1]]...)
		prev = loc[1]
	}
	if prev < len(text) {
		out = append(out, pattern.ReplaceAllString(text[prev:], marker)...)
	}
	return string(out)
}
