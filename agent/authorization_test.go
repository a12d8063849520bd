package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/tenderlens/tenderlens/multimodal"
)

var descriptor = Descriptor{
	ProjectNumber: "ZB-2025-001",
	ProjectName:   "智慧园区综合管理平台建设项目",
}

func verify(t *testing.T, text string) Finding {
	t.Helper()
	a := NewAuthorizationLetterAgent(nil, 2)
	f, err := a.Verify(context.Background(), Subject{
		Ref:        "4_授权书.docx",
		Text:       text,
		Descriptor: descriptor,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return f
}

func TestVerifyPass(t *testing.T) {
	f := verify(t, "项目编号：ZB-2025-001\n项目名称：智慧园区综合管理平台建设项目\n特此授权。")
	if f.Verdict != VerdictPass {
		t.Fatalf("verdict = %s, want pass: %+v", f.Verdict, f)
	}
	if len(f.Details) != 2 || !f.Details[0].Match || !f.Details[1].Match {
		t.Errorf("details = %+v", f.Details)
	}
}

func TestVerifyProjectNumberRequiresExactMatch(t *testing.T) {
	// Letter O in place of digit 0: visually close, still a mismatch.
	f := verify(t, "项目编号：ZB-2025-OO1\n项目名称：智慧园区综合管理平台建设项目")
	if f.Verdict != VerdictFail {
		t.Fatalf("verdict = %s, want fail: %+v", f.Verdict, f)
	}
	for _, d := range f.Details {
		if d.Field == "project_number" && d.Match {
			t.Errorf("project number should not match: %+v", d)
		}
		if d.Field == "project_name" && !d.Match {
			t.Errorf("project name should match: %+v", d)
		}
	}
}

func TestVerifyNormalizesFullwidthAndWhitespace(t *testing.T) {
	// Fullwidth hyphen-equivalents and inserted spaces come from OCR and
	// sloppy templates; they must not fail the check.
	f := verify(t, "项目编号： ＺＢ－２０２５－００１\n项目名称：智慧园区综合管理平台建设项目")
	if f.Verdict != VerdictPass {
		t.Fatalf("verdict = %s, want pass: %+v", f.Verdict, f)
	}
}

func TestVerifyProjectNameWithinEditDistance(t *testing.T) {
	// One character off: within the default distance of 2.
	f := verify(t, "项目编号：ZB-2025-001\n项目名称：智慧园区综合管理平台建设工程")
	if f.Verdict != VerdictPass {
		t.Fatalf("verdict = %s, want pass: %+v", f.Verdict, f)
	}

	a := NewAuthorizationLetterAgent(nil, 0)
	strict, err := a.Verify(context.Background(), Subject{
		Text:       "项目编号：ZB-2025-001\n项目名称：智慧园区综合管理平台建设工程",
		Descriptor: descriptor,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if strict.Verdict != VerdictFail {
		t.Fatalf("strict verdict = %s, want fail", strict.Verdict)
	}
}

func TestVerifyNoAnalyzerIsInconclusive(t *testing.T) {
	a := NewAuthorizationLetterAgent(nil, 2)
	f, err := a.Verify(context.Background(), Subject{
		Text:       "本授权书未填写项目信息。",
		Descriptor: descriptor,
	})
	if !errors.Is(err, multimodal.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if f.Verdict != VerdictInconclusive {
		t.Fatalf("verdict = %s, want inconclusive", f.Verdict)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"平台建设项目", "平台建设项目", 0},
		{"平台建设项目", "平台建设工程", 2},
		{"kitten", "sitting", 3},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewAuthorizationLetterAgent(nil, 2))

	a, err := r.Get(KindAuthorizationLetter)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Kind() != KindAuthorizationLetter {
		t.Errorf("kind = %s", a.Kind())
	}
	if _, err := r.Get("unknown"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if kinds := r.Kinds(); len(kinds) != 1 {
		t.Errorf("kinds = %v", kinds)
	}
}
