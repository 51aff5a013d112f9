package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_UnsupportedFormats(t *testing.T) {
	extractor := NewDefaultExtractor()

	// legacy .doc 与未知格式都返回格式错误
	for _, mt := range []string{"application/msword", "text/html", "image/png", ""} {
		_, err := extractor.Extract([]byte("content"), mt)
		require.Error(t, err, "media type %q should be rejected", mt)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	}
}

func TestExtract_CorruptContentFails(t *testing.T) {
	extractor := NewDefaultExtractor()

	_, err := extractor.Extract([]byte("not a real pdf"), "application/pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)

	_, err = extractor.Extract([]byte("not a real docx"), "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtract_MediaTypeParameterStripped(t *testing.T) {
	extractor := NewDefaultExtractor()

	// 带参数的媒体类型按基础类型分发，内容非法时报提取错误而非格式错误
	_, err := extractor.Extract([]byte("bad"), "application/pdf; charset=binary")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestStripDocxTags(t *testing.T) {
	raw := `<w:p><w:r><w:t>Senior Engineer</w:t></w:r></w:p><w:p><w:r><w:t>Go, MySQL</w:t></w:r></w:p>`
	text := docxParaPattern.ReplaceAllString(raw, "\n")
	text = docxTagPattern.ReplaceAllString(text, "")
	assert.Equal(t, "Senior Engineer\nGo, MySQL\n", text)
}
