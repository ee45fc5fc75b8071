package recipe

import (
	"context"
	"encoding/json"
	"fmt"
)

// Warnings surfaced to users. Stage failures never expose raw errors.
const (
	warnUnreadableImage  = "Could not analyze the image. Please upload a clear photo of food or ingredients."
	warnImageProcessing  = "Failed to process the image. Please try a different photo."
	warnExtractionFailed = "Failed to identify ingredients from the image."
	warnNoIngredients    = "Could not identify any food items or ingredients in the image. Please upload a clearer photo."
	warnGenerationFailed = "Recipe generation failed. Please try again."
)

// imageValidation is the JSON the validation prompt asks the model for.
type imageValidation struct {
	IsFood          bool    `json:"is_food"`
	Confidence      float64 `json:"confidence"`
	DetectedContent string  `json:"detected_content"`
	Category        string  `json:"category"`
}

// validateImages checks every uploaded image is actually food. With no images
// it is a no-op: a text-only recipe request is legitimate and must not cost a
// gateway call. Processing is fail-fast: the first rejected image terminates
// the stage, remaining images are not sent to the model.
func (p *Pipeline) validateImages(ctx context.Context, st *PipelineState) {
	if len(st.Images) == 0 {
		return
	}

	for i, img := range st.Images {
		raw, err := p.describeImage(ctx, img, ValidationPrompt())
		if err != nil {
			p.log.Error().Err(err).Int("image", i).Msg("image validation call failed")
			st.Valid = false
			st.Warning = warnImageProcessing
			return
		}

		obj, err := ExtractJSON(raw)
		if err != nil {
			p.log.Warn().Int("image", i).Str("raw", raw).Msg("validation response had no JSON")
			st.Valid = false
			st.Warning = warnUnreadableImage
			return
		}

		var v imageValidation
		if err := json.Unmarshal(obj, &v); err != nil {
			st.Valid = false
			st.Warning = warnUnreadableImage
			return
		}

		p.log.Info().
			Bool("is_food", v.IsFood).
			Float64("confidence", v.Confidence).
			Str("category", v.Category).
			Int("image", i).
			Msg("image validation verdict")

		// Strictness bias: low confidence rejects even when is_food is true.
		// A false negative costs the user a retry; a false positive silently
		// degrades the final recipe.
		if !v.IsFood || v.Confidence < p.policy.ConfidenceThreshold {
			detected := v.DetectedContent
			if detected == "" {
				detected = "unknown content"
			}
			st.Valid = false
			st.Warning = fmt.Sprintf("This doesn't look like food. We detected: %s. Please upload a clear photo of food items, vegetables, fruits, or ingredients.", detected)
			return
		}
	}
}

// extractIngredients pulls ingredient lists out of validated food images and
// appends them to the state. Extraction is all-or-nothing across the image
// set: a single failure invalidates the run rather than proceeding with a
// silently partial ingredient list.
func (p *Pipeline) extractIngredients(ctx context.Context, st *PipelineState) {
	for i, img := range st.Images {
		raw, err := p.describeImage(ctx, img, ExtractionPrompt())
		if err != nil {
			p.log.Error().Err(err).Int("image", i).Msg("ingredient extraction call failed")
			st.Valid = false
			st.Warning = warnExtractionFailed
			return
		}

		obj, err := ExtractJSON(raw)
		if err != nil {
			st.Valid = false
			st.Warning = warnExtractionFailed
			return
		}

		var res struct {
			Ingredients []string `json:"ingredients"`
		}
		if err := json.Unmarshal(obj, &res); err != nil {
			st.Valid = false
			st.Warning = warnExtractionFailed
			return
		}

		st.Ingredients = append(st.Ingredients, res.Ingredients...)
	}

	if len(st.Ingredients) == 0 {
		st.Valid = false
		st.Warning = warnNoIngredients
	}
}

// generateRecipe is the terminal producer: it always leaves the state with
// either a recipe or a warning, never an error.
func (p *Pipeline) generateRecipe(ctx context.Context, st *PipelineState) {
	prompt := RecipePrompt(st.Profile, st.Ingredients, st.PreviousRecipes, st.Message)

	raw, err := p.generateText(ctx, prompt, systemPreamble)
	if err != nil {
		p.log.Error().Err(err).Msg("recipe generation call failed")
		st.Valid = false
		st.Warning = warnGenerationFailed
		return
	}

	obj, err := ExtractJSON(raw)
	if err != nil {
		p.log.Warn().Str("raw", raw).Msg("recipe response had no JSON")
		st.Valid = false
		st.Warning = warnGenerationFailed
		return
	}

	var result RecipeResult
	if err := json.Unmarshal(obj, &result); err != nil {
		st.Valid = false
		st.Warning = warnGenerationFailed
		return
	}
	if err := result.validate(); err != nil {
		p.log.Warn().Err(err).Msg("generated recipe failed schema validation")
		st.Valid = false
		st.Warning = warnGenerationFailed
		return
	}

	st.Recipe = &result
}

// describeImage and generateText bound each gateway call so a hung provider
// invalidates the run instead of hanging the request.

func (p *Pipeline) describeImage(ctx context.Context, img []byte, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.policy.CallTimeout)
	defer cancel()
	return p.gw.DescribeImage(callCtx, img, prompt)
}

func (p *Pipeline) generateText(ctx context.Context, prompt, system string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.policy.CallTimeout)
	defer cancel()
	return p.gw.GenerateText(callCtx, prompt, system)
}
