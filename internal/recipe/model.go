package recipe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// HealthProfile is the user's health profile as supplied by the caller.
// It is passed through to the model unmodified; the prompt framing is
// responsible for making sense of whatever attributes it carries.
type HealthProfile map[string]any

// PipelineState is the single record threaded through all pipeline stages.
// It is created fresh per request and owned exclusively by that request.
type PipelineState struct {
	Profile         HealthProfile
	PreviousRecipes []string
	Message         string
	Images          [][]byte

	// Valid starts true and is cleared by the first stage that fails. Once
	// false, no stage may set Recipe; only the router's text-fallback policy
	// may restart the pipeline in text-only mode.
	Valid       bool
	Ingredients []string
	Recipe      *RecipeResult
	Warning     string

	// Fallback marks a run that dropped rejected images and regenerated from
	// the text message alone. Responses report the image rejection alongside
	// the recipe in that case.
	Fallback bool
}

// NewPipelineState returns a state ready for a pipeline run.
func NewPipelineState(profile HealthProfile, previous []string, message string, images [][]byte) *PipelineState {
	return &PipelineState{
		Profile:         profile,
		PreviousRecipes: previous,
		Message:         message,
		Images:          images,
		Valid:           true,
	}
}

// RecipeResult is the fixed schema the generate stage expects back from the
// model. Field names match the JSON the recipe prompt asks for.
type RecipeResult struct {
	Name        string   `json:"recipe_name"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
	Calories    Calories `json:"calories"`
	Protein     string   `json:"protein"`
	BestTime    string   `json:"best_time"`
	Reason      string   `json:"reason"`
}

// MealTimes are the accepted values for RecipeResult.BestTime.
var MealTimes = map[string]bool{
	"breakfast": true,
	"lunch":     true,
	"dinner":    true,
	"snack":     true,
}

// validate checks field presence so a structurally wrong model response is
// caught before it reaches the client.
func (r *RecipeResult) validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: missing recipe_name", ErrSchemaMismatch)
	case len(r.Ingredients) == 0:
		return fmt.Errorf("%w: missing ingredients", ErrSchemaMismatch)
	case len(r.Steps) == 0:
		return fmt.Errorf("%w: missing steps", ErrSchemaMismatch)
	case strings.TrimSpace(r.BestTime) == "":
		return fmt.Errorf("%w: missing best_time", ErrSchemaMismatch)
	}
	r.BestTime = strings.ToLower(strings.TrimSpace(r.BestTime))
	return nil
}

// Calories is an int that also accepts a numeric string when unmarshalled.
// Models are inconsistent about whether they quote the number.
type Calories int

func (c *Calories) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*c = Calories(int(num))
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("invalid calories value: %s", data)
	}

	// Tolerate units after the number, e.g. "350 kcal".
	str = strings.TrimSpace(str)
	if i := strings.IndexFunc(str, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	}); i >= 0 {
		str = str[:i]
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		*c = 0
		return nil
	}
	*c = Calories(int(f))
	return nil
}
