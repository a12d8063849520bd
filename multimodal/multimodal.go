// Package multimodal wraps a vision-capable LLM provider behind the two
// narrow operations the processing pipeline needs: naming/classifying an
// extracted image from its surrounding text, and pulling structured fields
// out of a scanned certificate or authorization letter.
package multimodal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tenderlens/tenderlens/llm"
)

// ErrUnavailable is returned when the inference backend cannot be reached
// or keeps failing. Callers degrade (positional names, inconclusive
// verdicts) instead of aborting.
var ErrUnavailable = errors.New("multimodal: inference unavailable")

// Image categories assigned during classification.
const (
	CategorySeal        = "seal"
	CategorySignature   = "signature"
	CategoryCertificate = "certificate"
	CategoryChart       = "chart"
	CategoryOther       = "other"
)

// Classification is the result of naming one extracted image.
type Classification struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// EncodedImage is raw image bytes plus their MIME type.
type EncodedImage struct {
	Data     []byte
	MIMEType string
}

// FieldRequest asks for structured fields from text and/or images.
type FieldRequest struct {
	Text   string
	Images []EncodedImage
	// Fields lists the keys to extract, e.g. "legal_representative_name".
	Fields []string
}

// Analyzer performs multimodal document analysis through a VisionProvider.
type Analyzer struct {
	vision llm.VisionProvider
}

// New creates an Analyzer on top of a vision provider.
func New(vision llm.VisionProvider) *Analyzer {
	return &Analyzer{vision: vision}
}

const classifyPrompt = `你是专业的投标文件分析师。请根据图片内容和上下文为图片命名并分类。

上下文内容：
%s

这是一组连续图片中的第%d张，共%d张。

分类取值（category，只能选其一）：
- seal：公章、印章
- signature：签名、手写签字
- certificate：身份证、营业执照、资质证书、授权书等证件扫描件
- chart：系统架构图、流程图、技术方案图、数据图表
- other：无法归入以上类别

要求：
1. name 使用4到8个中文字符，优先采用上下文中出现的具体名词
2. 避免特殊字符和空格
3. 严格以 JSON 输出：{"name": "...", "category": "...", "description": "..."}`

// Classify names and categorizes one image using its surrounding text.
func (a *Analyzer) Classify(ctx context.Context, img EncodedImage, contextText string, groupIndex, groupSize int) (*Classification, error) {
	if groupIndex < 1 {
		groupIndex = 1
	}
	if groupSize < 1 {
		groupSize = 1
	}
	prompt := fmt.Sprintf(classifyPrompt, clampRunes(contextText, 800), groupIndex, groupSize)

	resp, err := a.vision.ChatWithImages(ctx, llm.VisionChatRequest{
		Messages: []llm.VisionMessage{{
			Role: "user",
			Content: []llm.ContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &llm.ImageURL{URL: dataURL(img)}},
			},
		}},
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var c Classification
	if err := json.Unmarshal(extractJSON(resp.Content), &c); err != nil {
		return nil, fmt.Errorf("parsing classification: %w", err)
	}
	c.Name = sanitizeName(c.Name)
	c.Category = normalizeCategory(c.Category)
	if c.Name == "" {
		return nil, fmt.Errorf("classification returned no usable name")
	}
	return &c, nil
}

const extractPrompt = `你是一个投标文件审查专家。请查看附带的证件扫描件和正文内容，提取以下字段的值：
%s

没有识别到的字段请返回空字符串。严格以 JSON 对象输出，键为字段名，值为识别到的文本。

正文内容：
%s`

// ExtractFields pulls the requested fields out of the supplied text and
// certificate scans. Missing fields come back as empty strings.
func (a *Analyzer) ExtractFields(ctx context.Context, req FieldRequest) (map[string]string, error) {
	prompt := fmt.Sprintf(extractPrompt, strings.Join(req.Fields, "\n"), clampRunes(req.Text, 3000))

	parts := []llm.ContentPart{{Type: "text", Text: prompt}}
	for _, img := range req.Images {
		parts = append(parts, llm.ContentPart{
			Type:     "image_url",
			ImageURL: &llm.ImageURL{URL: dataURL(img)},
		})
	}

	resp, err := a.vision.ChatWithImages(ctx, llm.VisionChatRequest{
		Messages:       []llm.VisionMessage{{Role: "user", Content: parts}},
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(extractJSON(resp.Content), &raw); err != nil {
		return nil, fmt.Errorf("parsing extracted fields: %w", err)
	}

	fields := make(map[string]string, len(req.Fields))
	for _, key := range req.Fields {
		if v, ok := raw[key]; ok {
			fields[key] = strings.TrimSpace(fmt.Sprint(v))
		} else {
			fields[key] = ""
		}
	}
	return fields, nil
}

// dataURL encodes an image as a base64 data URL for OpenAI-style vision
// messages.
func dataURL(img EncodedImage) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// extractJSON returns the outermost JSON object embedded in model output,
// tolerating code fences and surrounding prose.
func extractJSON(s string) []byte {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return []byte(s)
	}
	return []byte(s[start : end+1])
}

// sanitizeName rejects model answers that are prose rather than a file
// name: too long, multi-line, or containing separators.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if strings.ContainsAny(name, "\n\r\\/:*?\"<>|") {
		return ""
	}
	if utf8.RuneCountInString(name) > 20 {
		return ""
	}
	return name
}

func normalizeCategory(cat string) string {
	switch strings.ToLower(strings.TrimSpace(cat)) {
	case CategorySeal, "stamp", "公章", "印章":
		return CategorySeal
	case CategorySignature, "签名", "签字":
		return CategorySignature
	case CategoryCertificate, "certificate-scan", "证件", "证书":
		return CategoryCertificate
	case CategoryChart, "diagram", "图表":
		return CategoryChart
	default:
		return CategoryOther
	}
}

func clampRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
