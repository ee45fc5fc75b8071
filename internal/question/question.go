// Package question generates personalized health questionnaires. Unlike the
// recipe pipeline this is a single stateless model call with no branching.
package question

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"nutrichef/internal/gateway"
	"nutrichef/internal/recipe"
)

// Question is one generated question with its answer options.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// QuestionSet is the model's full response.
type QuestionSet struct {
	Questions []Question `json:"questions"`
}

// Service generates questionnaires through the model gateway.
type Service struct {
	gw  gateway.ModelGateway
	log zerolog.Logger
}

// NewService creates a question generation service.
func NewService(gw gateway.ModelGateway, log zerolog.Logger) *Service {
	return &Service{gw: gw, log: log}
}

// Generate asks the model for follow-up questions tailored to the profile.
func (s *Service) Generate(ctx context.Context, profile recipe.HealthProfile) (*QuestionSet, error) {
	raw, err := s.gw.GenerateText(ctx, buildPrompt(profile), "")
	if err != nil {
		s.log.Error().Err(err).Msg("question generation call failed")
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	obj, err := recipe.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}

	var set QuestionSet
	if err := json.Unmarshal(obj, &set); err != nil {
		return nil, fmt.Errorf("generate questions: %w: %v", recipe.ErrMalformedOutput, err)
	}
	if len(set.Questions) == 0 {
		return nil, fmt.Errorf("generate questions: %w: empty question list", recipe.ErrSchemaMismatch)
	}
	return &set, nil
}

func buildPrompt(profile recipe.HealthProfile) string {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		profileJSON = []byte("{}")
	}

	return fmt.Sprintf(`Generate 10 health questions.

Each question must have:
- question (string)
- options (list of 3-5 strings)

Return JSON format:
{
 "questions": [
   {
     "question": "",
     "options": ["", "", ""]
   }
 ]
}

User Profile:
%s`, profileJSON)
}
