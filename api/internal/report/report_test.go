package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labreport-bot/api/internal/fault"
	"labreport-bot/api/internal/llm"
	"labreport-bot/api/internal/rangecheck"
)

type fakeService struct {
	reply    string
	startErr error
	sendErr  error

	preambles []string
	sent      []string
	closed    int
}

func (f *fakeService) Name() string { return "fake" }

func (f *fakeService) StartSession(_ context.Context, preamble string, prior []llm.Turn) (llm.Session, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.preambles = append(f.preambles, preamble)
	return &fakeSession{svc: f}, nil
}

type fakeSession struct{ svc *fakeService }

func (s *fakeSession) SendMessage(_ context.Context, text string) (string, error) {
	s.svc.sent = append(s.svc.sent, text)
	return s.svc.reply, s.svc.sendErr
}

func (s *fakeSession) Close() error {
	s.svc.closed++
	return nil
}

const consistentReport = `# Medical Report

## Test Results
Glucose:
- Value: 73 mg/dL
- Reference Range: 100 - 150 mg/dL
- Status: LOWER

Hemoglobin:
- Value: 13.5 g/dL
- Reference Range: 12 - 16 g/dL
- Status: NORMAL (because 13.5 >= 12 AND 13.5 <= 16)
`

func TestNormalizeSendsPromptAndParses(t *testing.T) {
	svc := &fakeService{reply: "```markdown\n" + consistentReport + "```"}
	rep, err := NewNormalizer(svc).Normalize(context.Background(), "GLU 73 mg/dL 100-150")
	require.NoError(t, err)

	require.Len(t, svc.preambles, 1)
	assert.True(t, strings.HasPrefix(svc.preambles[0], "You are a medical document processor"))
	assert.True(t, strings.HasSuffix(svc.preambles[0], "GLU 73 mg/dL 100-150"))
	assert.Equal(t, []string{instruction}, svc.sent)
	assert.Equal(t, 1, svc.closed)

	assert.Equal(t, "GLU 73 mg/dL 100-150", rep.Raw)
	assert.Equal(t, strings.TrimSpace(consistentReport), rep.Text)
	require.Len(t, rep.Results, 2)

	glu := rep.Results[0]
	assert.Equal(t, "Glucose", glu.Name)
	assert.Equal(t, "73", glu.Value.String())
	assert.Equal(t, "mg/dL", glu.Unit)
	assert.Equal(t, "100", glu.RangeMin.String())
	assert.Equal(t, "150", glu.RangeMax.String())
	assert.Equal(t, rangecheck.Lower, glu.Declared)
	assert.Equal(t, rangecheck.Lower, glu.Computed)
	assert.True(t, glu.Consistent())

	assert.Equal(t, rangecheck.Normal, rep.Results[1].Declared)
	assert.Empty(t, rep.Mismatches)
	assert.Empty(t, rep.Issues)
}

func TestNormalizeEmptyInputSkipsService(t *testing.T) {
	svc := &fakeService{reply: consistentReport}
	_, err := NewNormalizer(svc).Normalize(context.Background(), " \n\t ")

	var ne *fault.NormalizationError
	require.True(t, errors.As(err, &ne))
	assert.ErrorIs(t, err, fault.ErrEmptyInput)
	assert.Empty(t, svc.preambles)
}

func TestNormalizeServiceFailures(t *testing.T) {
	cases := []struct {
		name string
		svc  *fakeService
	}{
		{"start", &fakeService{startErr: errors.New("quota")}},
		{"send", &fakeService{sendErr: errors.New("timeout")}},
		{"empty", &fakeService{reply: "```\n```"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewNormalizer(tc.svc).Normalize(context.Background(), "GLU 90")
			var ne *fault.NormalizationError
			assert.True(t, errors.As(err, &ne))
		})
	}
}

func TestBuildFlagsDeclaredStatusMismatch(t *testing.T) {
	text := `## Test Results
Hemoglobin:
- Value: 11.9 g/dL
- Reference Range: 12.0 - 16.0 g/dL
- Status: NORMAL
`
	rep := Build("raw", text)
	require.Len(t, rep.Results, 1)
	assert.False(t, rep.Results[0].Consistent())
	assert.Equal(t, rangecheck.Lower, rep.Results[0].Computed)

	require.Len(t, rep.Mismatches, 1)
	m := rep.Mismatches[0]
	assert.Equal(t, "Hemoglobin", m.Name)
	assert.Equal(t, rangecheck.Normal, m.Declared)
	assert.Equal(t, rangecheck.Lower, m.Computed)

	assert.Contains(t, rep.Text, "- Status: NORMAL")
	assert.Contains(t, rep.Text, "## Range check")
	assert.Contains(t, rep.Text, "Hemoglobin: reported NORMAL, but 11.9 is LOWER for range 12 - 16")
}

func TestBuildReportsMalformedRange(t *testing.T) {
	rep := Build("raw", "Ferritin:\n- Value: 50\n- Reference Range: 300 - 20 ng/mL\n- Status: LOW\n")
	require.Len(t, rep.Results, 1)
	assert.False(t, rep.Results[0].Consistent())
	assert.Empty(t, rep.Mismatches)
	require.Len(t, rep.Issues, 1)
	assert.Contains(t, rep.Issues[0], "Ferritin")
	assert.Contains(t, rep.Text, "## Range check")
}

func TestBuildIsIdempotentOnRangeCheckSection(t *testing.T) {
	first := Build("raw", "Glucose:\n- Value: 101\n- Reference Range: 60 - 100\n- Status: NORMAL\n")
	second := Build("raw", first.Text)
	assert.Len(t, second.Results, 1)
	assert.Len(t, second.Mismatches, 1)
}

func TestParseLayouts(t *testing.T) {
	t.Run("indented items after name", func(t *testing.T) {
		res := Parse("Platelets:\n    - Value: 150,000 /uL\n    - Reference Range: 150,000 - 450,000 /uL\n    - Status: NORMAL\n")
		require.Len(t, res, 1)
		assert.Equal(t, "150000", res[0].Value.String())
		assert.Equal(t, "/uL", res[0].Unit)
		assert.Equal(t, "450000", res[0].RangeMax.String())
	})

	t.Run("bold labels and heading names", func(t *testing.T) {
		res := Parse("### Sodium\n- **Value:** 135.50 mmol/L\n- **Reference Range:** 136 to 145 mmol/L\n- **Status:** **LOW**\n")
		require.Len(t, res, 1)
		assert.Equal(t, "Sodium", res[0].Name)
		assert.Equal(t, "135.5", res[0].Value.String())
		assert.Equal(t, rangecheck.Lower, res[0].Declared)
	})

	t.Run("nested list", func(t *testing.T) {
		res := Parse("- TSH:\n  - Value: 4.5 mIU/L\n  - Reference Range: 0.4–4.0 mIU/L\n  - Status: HIGHER\n")
		require.Len(t, res, 1)
		assert.Equal(t, "TSH", res[0].Name)
		assert.Equal(t, "0.4", res[0].RangeMin.String())
		assert.Equal(t, "4", res[0].RangeMax.String())
		assert.Equal(t, rangecheck.Higher, res[0].Declared)
	})

	t.Run("single line entries", func(t *testing.T) {
		res := Parse("Glucose: 90 mg/dL (70 - 100)\nCollected: 2024-01-05\nHemoglobin: 12.1 g/dL\n- Status: NORMAL\n")
		require.Len(t, res, 2)
		assert.Equal(t, "Glucose", res[0].Name)
		assert.Equal(t, "mg/dL", res[0].Unit)
		assert.True(t, res[0].HasRange)
		assert.Equal(t, "70", res[0].RangeMin.String())
		assert.Equal(t, "100", res[0].RangeMax.String())
		assert.Equal(t, "Hemoglobin", res[1].Name)
		assert.False(t, res[1].HasRange)
		assert.Equal(t, rangecheck.Normal, res[1].Declared)
	})

	t.Run("numbered prose is not an entry", func(t *testing.T) {
		res := Parse("Glucose:\n- Value: 73 mg/dL\n- Reference Range: 60 - 100 mg/dL\n- Status: NORMAL\n\nNote: 2 values need review\nPage: 1 of 3\n")
		require.Len(t, res, 1)
		assert.Equal(t, "Glucose", res[0].Name)
	})

	t.Run("negative bounds", func(t *testing.T) {
		res := Parse("Base excess:\n- Value: -3 mmol/L\n- Reference Range: -2 - 2 mmol/L\n- Status: LOWER\n")
		require.Len(t, res, 1)
		assert.Equal(t, "-3", res[0].Value.String())
		assert.Equal(t, "-2", res[0].RangeMin.String())
		assert.Equal(t, "2", res[0].RangeMax.String())
	})

	t.Run("no entries", func(t *testing.T) {
		assert.Empty(t, Parse("# Medical Report\n\nNothing legible."))
	})
}
