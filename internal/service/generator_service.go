package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"quizrooms/internal/config"
	"quizrooms/internal/model"
)

// QuestionGenerator produces the questions of a room.
type QuestionGenerator interface {
	Generate(ctx context.Context, req model.GenerationRequest) ([]model.Question, error)
}

// GeneratorService generates quizzes via the Gemini API. Without an API key
// it serves a built-in placeholder quiz.
type GeneratorService struct {
	config config.AIConfig
	client *http.Client
}

// NewGeneratorService creates a new generator service
func NewGeneratorService(cfg config.AIConfig) *GeneratorService {
	return &GeneratorService{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate returns exactly req.Count valid questions or an error.
func (s *GeneratorService) Generate(ctx context.Context, req model.GenerationRequest) ([]model.Question, error) {
	if !s.config.IsEnabled() {
		return mockQuestions(req), nil
	}

	response, err := s.callGemini(ctx, buildQuizPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}

	var out struct {
		Questions []model.Question `json:"questions"`
	}
	if err := json.Unmarshal([]byte(response), &out); err != nil {
		return nil, fmt.Errorf("failed to parse generated questions: %w", err)
	}
	if len(out.Questions) < req.Count {
		return nil, fmt.Errorf("generator returned %d questions, want %d", len(out.Questions), req.Count)
	}
	qs := out.Questions[:req.Count]
	for _, q := range qs {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("generator returned a bad question: %w", err)
		}
	}
	return qs, nil
}

// callGemini makes a request to the Gemini API
func (s *GeneratorService) callGemini(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]string{
					{"text": prompt},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s?key=%s", s.config.ModelEndpoint(), s.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", err
	}

	if len(geminiResp.Candidates) > 0 && len(geminiResp.Candidates[0].Content.Parts) > 0 {
		return geminiResp.Candidates[0].Content.Parts[0].Text, nil
	}

	return "", fmt.Errorf("empty response from Gemini")
}

func buildQuizPrompt(req model.GenerationRequest) string {
	return fmt.Sprintf(`You are writing a multiple-choice quiz. Return ONLY valid JSON matching this schema:
{
  "questions": [
    {"question": "text", "options": ["a", "b", "c", "d"], "correctAnswerIndex": 0}
  ]
}

Topic: %s
Difficulty: %s
Number of questions: %d

Every question has exactly 4 options and one correct answer. correctAnswerIndex is 0-based.`,
		req.Topic, req.Difficulty, req.Count)
}

func mockQuestions(req model.GenerationRequest) []model.Question {
	qs := make([]model.Question, req.Count)
	for i := range qs {
		qs[i] = model.Question{
			Question:           fmt.Sprintf("Sample question %d about %s?", i+1, req.Topic),
			Options:            []string{"Option A", "Option B", "Option C", "Option D"},
			CorrectAnswerIndex: i % model.OptionsPerQuestion,
		}
	}
	return qs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
