package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"labreport-bot/api/internal/llm"
)

type Engine struct {
	APIKey string
	Model  string

	// Temperature nil keeps the model default.
	Temperature *float32
}

func New(apiKey, model string) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
	}
}

// WithTemperature returns a copy of e pinned to the given temperature.
func (e *Engine) WithTemperature(t float32) *Engine {
	cp := *e
	cp.Temperature = ptrFloat32(t)
	return &cp
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) newModel(ctx context.Context) (*genai.Client, *genai.GenerativeModel, error) {
	if e.APIKey == "" {
		return nil, nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return nil, nil, err
	}
	m := cl.GenerativeModel(e.Model)
	if m == nil {
		cl.Close()
		return nil, nil, fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{Temperature: e.Temperature}
	return cl, m, nil
}

// StartSession opens a chat whose history is the preamble followed by prior.
func (e *Engine) StartSession(ctx context.Context, preamble string, prior []llm.Turn) (llm.Session, error) {
	cl, m, err := e.newModel(ctx)
	if err != nil {
		return nil, err
	}
	cs := m.StartChat()
	cs.History = toHistory(preamble, prior)
	return &session{client: cl, chat: cs}, nil
}

type session struct {
	client *genai.Client
	chat   *genai.ChatSession
}

func (s *session) SendMessage(ctx context.Context, text string) (string, error) {
	resp, err := s.chat.SendMessage(ctx, genai.Text(text))
	if err != nil {
		return "", fmt.Errorf("gemini chat: %w", err)
	}
	out := strings.TrimSpace(responseText(resp))
	if out == "" {
		return "", fmt.Errorf("gemini chat: empty response")
	}
	return out, nil
}

func (s *session) Close() error { return s.client.Close() }

// Transcribe turns a recorded voice clip into text.
func (e *Engine) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	cl, m, err := e.newModel(ctx)
	if err != nil {
		return "", err
	}
	defer cl.Close()

	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(`Transcribe the speech in the audio verbatim.
Return only the transcript text, no comments. If there is no speech, return an empty string.`)},
	}
	resp, err := m.GenerateContent(ctx,
		genai.Text("Transcript:"),
		genai.Blob{MIMEType: mime, Data: audio},
	)
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return strings.TrimSpace(responseText(resp)), nil
}

// --------------------------- helpers ---------------------------

func toHistory(preamble string, prior []llm.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(prior)+1)
	if strings.TrimSpace(preamble) != "" {
		out = append(out, &genai.Content{Role: string(llm.RoleUser), Parts: []genai.Part{genai.Text(preamble)}})
	}
	for _, t := range prior {
		out = append(out, &genai.Content{Role: string(t.Role), Parts: []genai.Part{genai.Text(t.Text)}})
	}
	return out
}

// responseText joins the text parts of the first candidate that has content.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
