package validator

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"resume-analyzer-go/internal/constants"
)

// ValidationError 校验失败错误，Reason为可直接返回给上传方的英文说明
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func newValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Upload 待校验的上传文件，字段均来自请求侧的声明
type Upload struct {
	Filename  string
	MediaType string
	Content   []byte
}

// FileValidator 上传文件安全校验器
// 所有检查都是纯函数，按固定顺序执行并在首个失败处短路
type FileValidator struct {
	minFileSize int64
	maxFileSize int64
}

// NewFileValidator 创建文件校验器，非法边界回退到内置默认值
func NewFileValidator(minSize, maxSize int64) *FileValidator {
	if minSize <= 0 {
		minSize = constants.MinResumeFileSize
	}
	if maxSize <= 0 {
		maxSize = constants.MaxResumeFileSize
	}
	return &FileValidator{minFileSize: minSize, maxFileSize: maxSize}
}

// 扩展名与声明媒体类型的允许列表
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
}

var allowedMediaTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// 伪装双重扩展名的可执行样式中间段，例如 resume.exe.pdf
var executableStyleSegments = map[string]bool{
	"exe": true, "bat": true, "cmd": true, "sh": true, "js": true,
	"vbs": true, "scr": true, "php": true, "asp": true,
}

// 各格式的文件头签名
var (
	pdfSignature  = []byte("%PDF")
	ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	zipSignature  = []byte{0x50, 0x4B, 0x03, 0x04}
)

// 内容前导区扫描的危险标记
var (
	scriptMarkers = [][]byte{[]byte("<script"), []byte("javascript:")}
	mzHeader      = []byte("MZ")
	elfHeader     = []byte{0x7F, 'E', 'L', 'F'}
)

// contentScanWindow 危险标记只在前导窗口内扫描，避免全量扫描大文件
const contentScanWindow = 8 * 1024

// Validate 按顺序执行全部检查，返回首个失败原因；全部通过返回nil
func (v *FileValidator) Validate(upload Upload) error {
	if err := v.checkFilename(upload.Filename); err != nil {
		return err
	}
	if err := v.checkSize(int64(len(upload.Content))); err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(upload.Filename))
	if !allowedExtensions[ext] {
		return newValidationError("unsupported file extension %q, allowed: .pdf, .doc, .docx", ext)
	}
	if !allowedMediaTypes[normalizeMediaType(upload.MediaType)] {
		return newValidationError("unsupported media type %q", upload.MediaType)
	}
	if err := v.checkSignature(ext, upload.Content); err != nil {
		return err
	}
	return v.scanContent(upload.Content)
}

// checkFilename 文件名安全检查: 空值、空字符、路径穿越、超长、伪装双重扩展名
func (v *FileValidator) checkFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return newValidationError("filename is empty")
	}
	if strings.ContainsRune(name, 0) {
		return newValidationError("filename contains null character")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return newValidationError("filename contains path traversal sequence")
	}
	if len(name) > 255 {
		return newValidationError("filename exceeds 255 characters")
	}

	// resume.exe.pdf 这类名字的中间段是可执行扩展名
	segments := strings.Split(name, ".")
	if len(segments) > 2 {
		for _, seg := range segments[1 : len(segments)-1] {
			if executableStyleSegments[strings.ToLower(strings.TrimSpace(seg))] {
				return newValidationError("filename contains disguised executable extension %q", seg)
			}
		}
	}
	return nil
}

// CheckDeclaredSize 按请求声明的大小做上限预检，超限时调用方无需缓冲文件内容
// 声明值缺失（<=0）时放行，真实大小仍由Validate按实际字节数复核
func (v *FileValidator) CheckDeclaredSize(size int64) error {
	if size > v.maxFileSize {
		return newValidationError("file too large (%d bytes), limit is %d bytes", size, v.maxFileSize)
	}
	return nil
}

func (v *FileValidator) checkSize(size int64) error {
	if size < v.minFileSize {
		return newValidationError("file too small (%d bytes), likely empty or corrupt", size)
	}
	if size > v.maxFileSize {
		return newValidationError("file too large (%d bytes), limit is %d bytes", size, v.maxFileSize)
	}
	return nil
}

// checkSignature 文件头必须与扩展名声明的格式一致，防御改名伪装
func (v *FileValidator) checkSignature(ext string, content []byte) error {
	switch ext {
	case ".pdf":
		if !bytes.HasPrefix(content, pdfSignature) {
			return newValidationError("content does not match PDF signature for %s file", ext)
		}
	case ".doc":
		if !bytes.HasPrefix(content, ole2Signature) {
			return newValidationError("content does not match OLE2 signature for %s file", ext)
		}
	case ".docx":
		if !bytes.HasPrefix(content, zipSignature) {
			return newValidationError("content does not match ZIP signature for %s file", ext)
		}
	default:
		return newValidationError("unsupported file extension %q", ext)
	}
	return nil
}

// scanContent 在前导窗口内扫描脚本注入标记和可执行文件头
func (v *FileValidator) scanContent(content []byte) error {
	window := content
	if len(window) > contentScanWindow {
		window = window[:contentScanWindow]
	}
	lowered := bytes.ToLower(window)

	for _, marker := range scriptMarkers {
		if bytes.Contains(lowered, marker) {
			return newValidationError("content contains script injection marker %q", string(marker))
		}
	}
	// MZ/ELF头出现在签名检查已通过的字节流中仍然拒绝
	if bytes.HasPrefix(window, mzHeader) || bytes.Contains(window, elfHeader) {
		return newValidationError("content contains executable header")
	}
	return nil
}

func normalizeMediaType(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	// 去掉类似 "application/pdf; charset=binary" 的参数部分
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return mt
}
