package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tenderlens/tenderlens/multimodal"
)

// KindAuthorizationLetter verifies the legal representative authorization
// letter: the project number must match the tender exactly and the project
// name must match within a small edit distance.
const KindAuthorizationLetter = "authorization_letter"

var (
	projectNumberRe = regexp.MustCompile(`项目编号[:：]?\s*([A-Za-z0-9Ａ-Ｚａ-ｚ０-９\-—－_/ ]+)`)
	projectNameRe   = regexp.MustCompile(`项目名称[:：]?\s*([^\n\r，。；,;]+)`)
)

// AuthorizationLetterAgent checks an authorization letter section against
// the tender descriptor. Fields are pulled from the section text by regex
// first; the multimodal analyzer fills in whatever the regexes miss, which
// covers letters present only as scans.
type AuthorizationLetterAgent struct {
	analyzer *multimodal.Analyzer
	// maxNameDistance is the largest Levenshtein distance at which the
	// project name still counts as matching.
	maxNameDistance int
}

func NewAuthorizationLetterAgent(analyzer *multimodal.Analyzer, maxNameDistance int) *AuthorizationLetterAgent {
	if maxNameDistance < 0 {
		maxNameDistance = 0
	}
	return &AuthorizationLetterAgent{analyzer: analyzer, maxNameDistance: maxNameDistance}
}

func (a *AuthorizationLetterAgent) Kind() string { return KindAuthorizationLetter }

// Verify compares the letter's project number and name against the tender
// descriptor. When inference is needed but unavailable, the returned
// finding is inconclusive and the error wraps multimodal.ErrUnavailable so
// the caller can downgrade it to a warning.
func (a *AuthorizationLetterAgent) Verify(ctx context.Context, sub Subject) (Finding, error) {
	finding := Finding{AgentKind: a.Kind(), SubjectRef: sub.Ref}

	number := firstSubmatch(projectNumberRe, sub.Text)
	name := firstSubmatch(projectNameRe, sub.Text)

	if number == "" || name == "" {
		extracted, err := a.extractMissing(ctx, sub, number == "", name == "")
		if err != nil {
			if errors.Is(err, multimodal.ErrUnavailable) {
				finding.Verdict = VerdictInconclusive
				finding.Summary = "字段识别服务不可用，无法完成核验"
				return finding, err
			}
			return finding, err
		}
		if number == "" {
			number = extracted["project_number"]
		}
		if name == "" {
			name = extracted["project_name"]
		}
	}

	numberMatch := normalizeField(number) == normalizeField(sub.Descriptor.ProjectNumber)
	nameDist := levenshtein(normalizeField(name), normalizeField(sub.Descriptor.ProjectName))
	nameMatch := name != "" && nameDist <= a.maxNameDistance

	finding.Details = []FieldComparison{
		{Field: "project_number", Expected: sub.Descriptor.ProjectNumber, Found: number, Match: numberMatch},
		{Field: "project_name", Expected: sub.Descriptor.ProjectName, Found: name, Match: nameMatch},
	}

	switch {
	case number == "" && name == "":
		finding.Verdict = VerdictInconclusive
		finding.Summary = "未能在授权书中识别到项目编号和项目名称"
		finding.Confidence = 0.3
	case numberMatch && nameMatch:
		finding.Verdict = VerdictPass
		finding.Summary = "项目编号与项目名称均与招标文件一致"
		finding.Confidence = 0.95
	default:
		finding.Verdict = VerdictFail
		finding.Summary = failSummary(numberMatch, nameMatch)
		finding.Confidence = 0.9
	}
	return finding, nil
}

func (a *AuthorizationLetterAgent) extractMissing(ctx context.Context, sub Subject, needNumber, needName bool) (map[string]string, error) {
	if a.analyzer == nil {
		return nil, fmt.Errorf("%w: no analyzer configured", multimodal.ErrUnavailable)
	}
	var fields []string
	if needNumber {
		fields = append(fields, "project_number")
	}
	if needName {
		fields = append(fields, "project_name")
	}
	return a.analyzer.ExtractFields(ctx, multimodal.FieldRequest{
		Text:   sub.Text,
		Images: sub.Images,
		Fields: fields,
	})
}

func failSummary(numberMatch, nameMatch bool) string {
	switch {
	case !numberMatch && !nameMatch:
		return "项目编号与项目名称均与招标文件不一致"
	case !numberMatch:
		return "项目编号与招标文件不一致"
	default:
		return "项目名称与招标文件不一致"
	}
}

func firstSubmatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// normalizeField strips whitespace and maps fullwidth ASCII variants to
// their halfwidth forms so OCR artifacts do not defeat exact comparison.
// Visually similar but distinct characters, like the letter O versus the
// digit 0, are left alone on purpose.
func normalizeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '　':
			continue
		case r >= '！' && r <= '～':
			// Fullwidth ASCII block maps onto ! through ~.
			r = r - '！' + '!'
		case r == '—' || r == '－':
			r = '-'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// levenshtein computes edit distance over runes with a two-row table.
func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}
	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(br)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
