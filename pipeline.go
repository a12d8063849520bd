package tenderlens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tenderlens/tenderlens/agent"
	"github.com/tenderlens/tenderlens/artifact"
	"github.com/tenderlens/tenderlens/multimodal"
	"github.com/tenderlens/tenderlens/office"
	"github.com/tenderlens/tenderlens/store"
)

// runState carries what one pipeline run accumulates across stages.
type runState struct {
	runID    string
	tenderID string
	doc      *store.Document
	ws       *artifact.Workspace
	backend  office.Backend
	outline  []office.OutlineEntry
	sections []office.SectionFile
	warnings []office.Warning
}

func (rs *runState) warn(op, detail string) {
	rs.warnings = append(rs.warnings, office.Warning{Op: op, Detail: detail})
	slog.Warn("pipeline warning", "run_id", rs.runID, "op", op, "detail", detail)
}

// executeRun drives a document through all pipeline stages. It is called
// on its own goroutine; failures are recorded on the run, never returned.
// ctx carries the run's cancellation; store writes use their own context
// so a cancelled run can still be recorded as failed.
func (e *engine) executeRun(ctx context.Context, runID string, doc *store.Document, opts processOptions) {
	rec := context.Background()

	rs := &runState{runID: runID, tenderID: opts.tenderID, doc: doc}
	log := slog.With("run_id", runID, "document_id", doc.ID)

	fail := func(stage string, err error) {
		log.Error("processing failed", "stage", stage, "error", err)
		if uerr := e.store.UpdateRunStage(rec, runID, StatusFailed, stage, nil); uerr != nil {
			log.Error("recording failed stage", "error", uerr)
		}
		if ferr := e.store.FinishRun(rec, runID, StatusFailed, rs.warnings, err.Error()); ferr != nil {
			log.Error("finishing failed run", "error", ferr)
		}
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		fail(StagePending, ErrRunCancelled)
		return
	}
	defer e.slots.Release(1)

	log.Info("processing started", "format", doc.Format)

	ws, err := artifact.OpenWorkspace(e.cfg.WorkDir, doc.ID)
	if err != nil {
		fail(StagePending, err)
		return
	}
	rs.ws = ws

	backend, err := office.SelectBackend(doc.Format, office.BackendConfig{
		HeadingStylePattern: e.cfg.HeadingStylePattern,
		BridgeURL:           e.cfg.Automation.BridgeURL,
		RetryAttempts:       e.cfg.Automation.RetryAttempts,
	})
	if err != nil {
		fail(StagePending, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
		return
	}
	rs.backend = backend
	log.Info("selected backend", "backend", backend.Name())

	stages := []struct {
		name string
		run  func(ctx context.Context, rs *runState) (any, error)
	}{
		{StageTOCExtracting, e.stageOutline},
		{StageSplitting, e.stageSplit},
		{StageImageExtracting, e.stageImages},
		{StageVerifying, e.stageVerify},
	}

	for _, st := range stages {
		if ctx.Err() != nil {
			fail(st.name, ErrRunCancelled)
			return
		}
		if err := e.store.UpdateRunStage(rec, runID, StatusRunning, st.name, nil); err != nil {
			fail(st.name, err)
			return
		}
		sctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
		result, err := st.run(sctx, rs)
		cancel()
		if err != nil {
			fail(st.name, e.mapStageError(err))
			return
		}
		if err := e.store.UpdateRunStage(rec, runID, StatusRunning, st.name, result); err != nil {
			fail(st.name, err)
			return
		}
		log.Info("stage completed", "stage", st.name)
	}

	if err := e.store.FinishRun(rec, runID, StatusCompleted, rs.warnings, ""); err != nil {
		log.Error("finishing run", "error", err)
		return
	}
	log.Info("processing completed", "warnings", len(rs.warnings))
}

// mapStageError folds backend sentinels into the engine's error taxonomy.
func (e *engine) mapStageError(err error) error {
	switch {
	case errors.Is(err, office.ErrNoHeadings):
		return fmt.Errorf("%w: %v", ErrNoHeadingsFound, err)
	case errors.Is(err, office.ErrEmptyOutline):
		return fmt.Errorf("%w: %v", ErrEmptyOutline, err)
	case errors.Is(err, office.ErrUnreadable):
		return fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	case errors.Is(err, office.ErrBusy):
		return fmt.Errorf("%w: %v", ErrResourceBusy, err)
	case errors.Is(err, multimodal.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
	case errors.Is(err, context.Canceled):
		return ErrRunCancelled
	default:
		return err
	}
}

// stageOutline extracts the heading outline and writes the outline
// artifact. With SingleSectionFallback enabled, a document without
// recognisable headings becomes one low-confidence section covering the
// whole document instead of a failure.
func (e *engine) stageOutline(ctx context.Context, rs *runState) (any, error) {
	outline, err := rs.backend.Outline(ctx, rs.doc.Path)
	if err != nil {
		if (errors.Is(err, office.ErrNoHeadings) || errors.Is(err, office.ErrEmptyOutline)) && e.cfg.SingleSectionFallback {
			rs.warn("outline", "no headings recognised, falling back to a single section")
			outline = []office.OutlineEntry{{
				Level:         1,
				Title:         "全文",
				Order:         0,
				LowConfidence: true,
			}}
		} else {
			return nil, err
		}
	}
	rs.outline = outline

	if err := rs.ws.WriteOutline(outline); err != nil {
		return nil, err
	}

	low := 0
	for _, entry := range outline {
		if entry.LowConfidence {
			low++
		}
	}
	return map[string]any{"headings": len(outline), "low_confidence": low}, nil
}

// stageSplit writes one section file per top-level heading. Anchors are
// reloaded from the outline artifact so the split always works from what
// was recorded, not from in-memory state.
func (e *engine) stageSplit(ctx context.Context, rs *runState) (any, error) {
	if saved, err := rs.ws.ReadOutline(); err == nil && len(saved) > 0 {
		rs.outline = saved
	}
	sections, warns, err := rs.backend.Split(ctx, rs.doc.Path, rs.outline, e.cfg.SplitLevel, rs.ws.SectionsPath())
	rs.warnings = append(rs.warnings, warns...)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: no sections produced", ErrSplitWrite)
	}
	rs.sections = sections

	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.Path
	}
	return map[string]any{"sections": len(sections), "files": names}, nil
}

// stageImages extracts embedded images, names them with the vision model,
// and writes the image files plus manifest. Formats whose packages cannot
// be read in-process are skipped with a warning.
func (e *engine) stageImages(ctx context.Context, rs *runState) (any, error) {
	if rs.doc.Format != "docx" {
		rs.warn("images", fmt.Sprintf("image extraction not supported for %s sources", rs.doc.Format))
		return map[string]any{"images": 0, "skipped": true}, nil
	}

	doc, err := office.Open(rs.doc.Path)
	if err != nil {
		return nil, err
	}

	// One anchor per section, in section order. Paragraphs before the
	// first anchor belong to section 0, which absorbed the preamble.
	boundaries := make([]int, 0, len(rs.sections))
	for _, entry := range office.SplitBoundaries(rs.outline, e.cfg.SplitLevel) {
		boundaries = append(boundaries, entry.Anchor.Paragraph)
	}

	images, warns := office.ExtractImages(doc, boundaries, e.cfg.ContextWindowChars)
	rs.warnings = append(rs.warnings, warns...)

	var entries []artifact.ManifestEntry
	used := make(map[string]bool)
	for i, img := range images {
		name, category, description := e.classifyImage(ctx, rs, img, i)
		name = uniqueName(name, used)

		path, err := rs.ws.WriteImage(name, img)
		if err != nil {
			rs.warn("images", fmt.Sprintf("writing %s: %v", name, err))
			continue
		}
		entries = append(entries, artifact.ManifestEntry{
			File:        path,
			Hash:        img.Hash,
			MIMEType:    img.MIMEType,
			Width:       img.Width,
			Height:      img.Height,
			Category:    category,
			Description: description,
			Locations:   img.Locations,
		})
	}
	if err := rs.ws.WriteManifest(entries); err != nil {
		return nil, err
	}
	return map[string]any{"images": len(entries)}, nil
}

// classifyImage asks the vision model for a name and category, degrading
// to a positional name when inference is unavailable.
func (e *engine) classifyImage(ctx context.Context, rs *runState, img office.Image, idx int) (name, category, description string) {
	fallback := fmt.Sprintf("image_%d", idx+1)
	if e.analyzer == nil {
		return fallback, multimodal.CategoryOther, ""
	}
	c, err := e.analyzer.Classify(ctx, multimodal.EncodedImage{Data: img.Data, MIMEType: img.MIMEType},
		img.ContextText, img.GroupIndex, img.GroupSize)
	if err != nil {
		if errors.Is(err, multimodal.ErrUnavailable) {
			rs.warn("images", fmt.Sprintf("naming service unavailable, using positional name for image %d", idx+1))
		} else {
			rs.warn("images", fmt.Sprintf("classifying image %d: %v", idx+1, err))
		}
		return fallback, multimodal.CategoryOther, ""
	}
	if img.GroupSize > 1 {
		return fmt.Sprintf("%s_%d", c.Name, img.GroupIndex), c.Category, c.Description
	}
	return c.Name, c.Category, c.Description
}

func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d", name, n)
	}
	used[candidate] = true
	return candidate
}

// stageVerify runs the registered agents over the sections they apply to
// and records their findings. Missing descriptors or subjects downgrade
// to warnings; an unavailable inference backend yields inconclusive
// findings rather than a failed run.
func (e *engine) stageVerify(ctx context.Context, rs *runState) (any, error) {
	descriptor, err := e.lookupDescriptor(ctx, rs)
	if err != nil {
		return nil, err
	}
	if descriptor == nil {
		rs.warn("verify", "no tender descriptor available, skipping verification")
		if err := rs.ws.WriteFindings(nil); err != nil {
			return nil, err
		}
		return map[string]any{"findings": 0, "skipped": true}, nil
	}

	var findings []agent.Finding
	for _, kind := range e.agents.Kinds() {
		a, err := e.agents.Get(kind)
		if err != nil {
			continue
		}
		sub, ok := e.subjectFor(rs, kind, *descriptor)
		if !ok {
			rs.warn("verify", fmt.Sprintf("no section found for %s check", kind))
			continue
		}
		finding, err := a.Verify(ctx, sub)
		if err != nil {
			if errors.Is(err, multimodal.ErrUnavailable) {
				rs.warn("verify", fmt.Sprintf("%s check inconclusive: inference unavailable", kind))
			} else {
				return nil, err
			}
		}
		findings = append(findings, finding)
	}

	if err := rs.ws.WriteFindings(findings); err != nil {
		return nil, err
	}

	rows := make([]store.FindingRow, 0, len(findings))
	for _, f := range findings {
		details, _ := json.Marshal(f.Details)
		rows = append(rows, store.FindingRow{
			RunID:      rs.runID,
			AgentKind:  f.AgentKind,
			SubjectRef: f.SubjectRef,
			Verdict:    f.Verdict,
			Details:    string(details),
			Summary:    f.Summary,
			Confidence: f.Confidence,
		})
	}
	if err := e.store.InsertFindings(ctx, rs.runID, rows); err != nil {
		return nil, err
	}
	return map[string]any{"findings": len(findings)}, nil
}

// lookupDescriptor finds the tender reference values for a run: the
// explicitly named tender document's descriptor, or the one stored for
// the processed document itself.
func (e *engine) lookupDescriptor(ctx context.Context, rs *runState) (*agent.Descriptor, error) {
	docID := rs.doc.ID
	if rs.tenderID != "" {
		docID = rs.tenderID
	}
	d, err := e.store.GetDescriptor(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		if rs.tenderID != "" {
			// The caller named a tender expecting verification against
			// it; a missing descriptor there is an error, not a skip.
			return nil, fmt.Errorf("%w: tender document %s", ErrDescriptorNotFound, rs.tenderID)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent.Descriptor{
		ProjectNumber: d.ProjectNumber,
		ProjectName:   d.ProjectName,
		Purchaser:     d.Purchaser,
	}, nil
}

// subjectFor selects the section an agent should examine and assembles
// its text.
func (e *engine) subjectFor(rs *runState, kind string, d agent.Descriptor) (agent.Subject, bool) {
	var keywords []string
	switch kind {
	case agent.KindAuthorizationLetter:
		keywords = []string{"授权", "授权书", "授权委托"}
	default:
		return agent.Subject{}, false
	}

	section, ok := findSection(rs.sections, keywords)
	if !ok {
		return agent.Subject{}, false
	}

	text := sectionText(rs.doc, section)
	return agent.Subject{
		Ref:        section.Path,
		Text:       text,
		Descriptor: d,
	}, true
}

func findSection(sections []office.SectionFile, keywords []string) (office.SectionFile, bool) {
	for _, s := range sections {
		for _, kw := range keywords {
			if strings.Contains(s.Title, kw) {
				return s, true
			}
		}
	}
	return office.SectionFile{}, false
}

// sectionText re-reads the source package and concatenates the text of
// the paragraphs belonging to one section. Only package-readable formats
// yield text; others return empty and leave the agent to its scans.
func sectionText(doc *store.Document, section office.SectionFile) string {
	if doc.Format != "docx" {
		return ""
	}
	pkg, err := office.Open(doc.Path)
	if err != nil {
		return ""
	}
	end := section.End.Paragraph
	if section.AtEnd || end > pkg.ParagraphCount() {
		end = pkg.ParagraphCount()
	}
	var b strings.Builder
	for i := section.Start.Paragraph; i < end; i++ {
		if t := pkg.ParagraphText(i); t != "" {
			b.WriteString(t)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
