// Package report turns raw OCR text into a structured lab report using the
// generative service, then re-checks every declared status against the
// reference range.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"labreport-bot/api/internal/fault"
	"labreport-bot/api/internal/llm"
	"labreport-bot/api/internal/observability"
	"labreport-bot/api/internal/rangecheck"
	"labreport-bot/api/internal/util"
)

// TestResult is one parsed entry of the normalized report.
type TestResult struct {
	Name     string
	Value    decimal.Decimal
	HasValue bool
	Unit     string
	RangeMin decimal.Decimal
	RangeMax decimal.Decimal
	HasRange bool
	// Declared is the status written by the model, empty if none was parsed.
	Declared rangecheck.Status
	// Computed is the status derived from Value and the range, empty when it
	// cannot be derived.
	Computed rangecheck.Status
}

// Consistent reports whether the declared status agrees with the classifier.
// Entries that cannot be checked count as consistent.
func (r TestResult) Consistent() bool {
	if !r.HasValue || !r.HasRange || r.Declared == "" {
		return true
	}
	st, err := rangecheck.Classify(r.Value, r.RangeMin, r.RangeMax)
	if err != nil {
		return false
	}
	return st == r.Declared
}

func (r TestResult) rangeString() string {
	return r.RangeMin.String() + " - " + r.RangeMax.String()
}

// Mismatch is a declared status that contradicts the classifier.
type Mismatch struct {
	Name     string
	Value    decimal.Decimal
	RangeMin decimal.Decimal
	RangeMax decimal.Decimal
	Declared rangecheck.Status
	Computed rangecheck.Status
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: reported %s, but %s is %s for range %s - %s",
		m.Name, m.Declared, m.Value, m.Computed, m.RangeMin, m.RangeMax)
}

type Report struct {
	// Raw is the OCR text the report was built from.
	Raw string
	// Text is the model output plus the range check section when needed.
	Text       string
	Results    []TestResult
	Mismatches []Mismatch
	Issues     []string
}

// Normalizer structures OCR text through an llm.Service.
type Normalizer struct {
	svc    llm.Service
	prompt string
}

func NewNormalizer(svc llm.Service) *Normalizer {
	return &Normalizer{svc: svc, prompt: util.LoadPrompt("normalize", DefaultPrompt)}
}

func (n *Normalizer) Normalize(ctx context.Context, raw string) (*Report, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &fault.NormalizationError{Err: fault.ErrEmptyInput}
	}

	sess, err := n.svc.StartSession(ctx, n.prompt+"\n\n"+raw, nil)
	if err != nil {
		return nil, &fault.NormalizationError{Err: fmt.Errorf("start session: %w", err)}
	}
	defer sess.Close()

	reply, err := sess.SendMessage(ctx, instruction)
	if err != nil {
		return nil, &fault.NormalizationError{Err: err}
	}
	text := util.StripCodeFences(reply)
	if text == "" {
		return nil, &fault.NormalizationError{Err: errors.New("service returned an empty report")}
	}

	rep := Build(raw, text)
	if len(rep.Mismatches) > 0 || len(rep.Issues) > 0 {
		observability.LoggerFromContext(ctx).Warn("report range check",
			"service", n.svc.Name(),
			"results", len(rep.Results),
			"mismatches", len(rep.Mismatches),
			"issues", len(rep.Issues),
		)
	}
	return rep, nil
}

// Build parses text and runs the range check. It is used for model output and
// for drafts edited by hand.
func Build(raw, text string) *Report {
	rep := &Report{Raw: raw, Text: text, Results: Parse(text)}
	for i := range rep.Results {
		r := &rep.Results[i]
		if !r.HasValue || !r.HasRange {
			continue
		}
		st, err := rangecheck.Classify(r.Value, r.RangeMin, r.RangeMax)
		if err != nil {
			rep.Issues = append(rep.Issues, fmt.Sprintf("%s: reference range %s is not valid", r.Name, r.rangeString()))
			continue
		}
		r.Computed = st
		if r.Declared != "" && r.Declared != st {
			rep.Mismatches = append(rep.Mismatches, Mismatch{
				Name:     r.Name,
				Value:    r.Value,
				RangeMin: r.RangeMin,
				RangeMax: r.RangeMax,
				Declared: r.Declared,
				Computed: st,
			})
		}
	}
	if section := rangeCheckSection(rep); section != "" {
		rep.Text = strings.TrimRight(rep.Text, "\n") + "\n\n" + section
	}
	return rep
}

func rangeCheckSection(rep *Report) string {
	if len(rep.Mismatches) == 0 && len(rep.Issues) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Range check\n")
	for _, m := range rep.Mismatches {
		b.WriteString("- ")
		b.WriteString(m.String())
		b.WriteByte('\n')
	}
	for _, s := range rep.Issues {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
