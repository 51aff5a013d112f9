package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// TextExtractor 文档文本提取接口
// 空白结果视为提取失败，调用方无需再做空文本判断
type TextExtractor interface {
	Extract(content []byte, mediaType string) (string, error)
}

// DefaultExtractor 按媒体类型分发到各格式提取器
type DefaultExtractor struct{}

func NewDefaultExtractor() *DefaultExtractor {
	return &DefaultExtractor{}
}

// Extract 提取纯文本，.doc走OLE2解析在本服务不支持，返回明确的格式错误
func (e *DefaultExtractor) Extract(content []byte, mediaType string) (string, error) {
	mt := mediaType
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}

	var text string
	var err error
	switch strings.ToLower(strings.TrimSpace(mt)) {
	case "application/pdf":
		text, err = extractPDFText(content)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		text, err = extractDocxText(content)
	case "application/msword":
		return "", fmt.Errorf("%w: legacy .doc 需要专用解析服务", ErrUnsupportedFormat)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: 提取结果为空文本", ErrExtractionFailed)
	}
	return text, nil
}

func extractPDFText(content []byte) (string, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, int64(reader.Len()))
	if err != nil {
		return "", fmt.Errorf("读取PDF失败: %w", err)
	}

	var textBuilder strings.Builder
	numPages := pdfReader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页失败不中断整份文档
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

// docxTagPattern 剥离document.xml中的标签，段落边界替换为换行
var (
	docxParaPattern = regexp.MustCompile(`</w:p>`)
	docxTagPattern  = regexp.MustCompile(`<[^>]+>`)
)

func extractDocxText(content []byte) (string, error) {
	reader := bytes.NewReader(content)
	doc, err := docx.ReadDocxFromMemory(reader, int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("解析DOCX失败: %w", err)
	}
	defer doc.Close()

	raw := doc.Editable().GetContent()
	text := docxParaPattern.ReplaceAllString(raw, "\n")
	text = docxTagPattern.ReplaceAllString(text, "")
	return text, nil
}
