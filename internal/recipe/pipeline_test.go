package recipe

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutrichef/internal/gateway"
)

// stubGateway is a deterministic gateway: it dispatches on the instruction
// prompt, so validation and extraction calls can be scripted independently.
type stubGateway struct {
	validationResp string
	validationErr  error
	extractionResp string
	extractionErr  error
	textResp       string
	textErr        error

	validateCalls  int
	extractCalls   int
	textCalls      int
	lastTextPrompt string
}

func (s *stubGateway) DescribeImage(_ context.Context, _ []byte, prompt string) (string, error) {
	if strings.Contains(prompt, "food image validator") {
		s.validateCalls++
		return s.validationResp, s.validationErr
	}
	s.extractCalls++
	return s.extractionResp, s.extractionErr
}

func (s *stubGateway) GenerateText(_ context.Context, prompt, _ string) (string, error) {
	s.textCalls++
	s.lastTextPrompt = prompt
	return s.textResp, s.textErr
}

const (
	foodValidationResp    = `{"is_food": true, "confidence": 0.95, "detected_content": "fresh vegetables", "category": "INGREDIENTS"}`
	laptopValidationResp  = `{"is_food": false, "confidence": 0.9, "detected_content": "a laptop", "category": "NOT_FOOD"}`
	spinachExtractionResp = "```json\n{\"ingredients\": [\"spinach\", \"egg\"]}\n```"
	breakfastRecipeResp   = "Here is your recipe:\n```json\n" + recipeJSON + "\n```"
)

func newTestPipeline(gw gateway.ModelGateway, policy Policy) *Pipeline {
	return NewPipeline(gw, policy, zerolog.Nop())
}

func fakeImage() []byte { return []byte("fake-image-bytes") }

func TestRunTextOnlySkipsValidation(t *testing.T) {
	// Scenario A: no images, text-only request.
	gw := &stubGateway{textResp: breakfastRecipeResp}
	p := newTestPipeline(gw, DefaultPolicy())

	st := p.Run(context.Background(), NewPipelineState(
		HealthProfile{"diet": "vegetarian"}, nil, "high protein breakfast", nil))

	assert.True(t, st.Valid)
	assert.Zero(t, gw.validateCalls, "validate must not call the gateway without images")
	assert.Zero(t, gw.extractCalls)
	assert.Equal(t, 1, gw.textCalls)
	require.NotNil(t, st.Recipe)
	assert.Equal(t, "breakfast", st.Recipe.BestTime)
	assert.True(t, MealTimes[st.Recipe.BestTime])
}

func TestRunRejectsNonFoodImage(t *testing.T) {
	// Scenario B: laptop photo, no message so no fallback applies.
	gw := &stubGateway{validationResp: laptopValidationResp}
	p := newTestPipeline(gw, DefaultPolicy())

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "", [][]byte{fakeImage()}))

	assert.False(t, st.Valid)
	assert.Contains(t, st.Warning, "laptop")
	assert.Nil(t, st.Recipe)
	assert.Zero(t, gw.extractCalls)
	assert.Zero(t, gw.textCalls, "generate must not run after rejection")
}

func TestRunRejectsLowConfidence(t *testing.T) {
	// is_food=true but below threshold still rejects.
	gw := &stubGateway{
		validationResp: `{"is_food": true, "confidence": 0.5, "detected_content": "maybe a stew", "category": "FOOD"}`,
	}
	p := newTestPipeline(gw, Policy{ConfidenceThreshold: 0.7, TextFallback: false, CallTimeout: DefaultPolicy().CallTimeout})

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "dinner", [][]byte{fakeImage()}))

	assert.False(t, st.Valid)
	assert.Contains(t, st.Warning, "maybe a stew")
	assert.Nil(t, st.Recipe)
	assert.Zero(t, gw.textCalls)
}

func TestRunFailsFastOnFirstRejection(t *testing.T) {
	gw := &stubGateway{validationResp: laptopValidationResp}
	p := newTestPipeline(gw, Policy{ConfidenceThreshold: 0.7, TextFallback: false, CallTimeout: DefaultPolicy().CallTimeout})

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "", [][]byte{fakeImage(), fakeImage(), fakeImage()}))

	assert.False(t, st.Valid)
	assert.Equal(t, 1, gw.validateCalls, "remaining images must not be validated after the first rejection")
}

func TestRunGeneratesFromDetectedIngredients(t *testing.T) {
	// Scenario C: one food image, extraction feeds generation.
	gw := &stubGateway{
		validationResp: foodValidationResp,
		extractionResp: spinachExtractionResp,
		textResp:       breakfastRecipeResp,
	}
	p := newTestPipeline(gw, DefaultPolicy())

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "", [][]byte{fakeImage()}))

	assert.True(t, st.Valid)
	assert.Equal(t, []string{"spinach", "egg"}, st.Ingredients)
	assert.Equal(t, 1, gw.textCalls)
	assert.Contains(t, gw.lastTextPrompt, "spinach, egg")
	require.NotNil(t, st.Recipe)
	assert.Equal(t, "Spinach Egg Scramble", st.Recipe.Name)
}

func TestRunInvalidatesOnEmptyExtraction(t *testing.T) {
	// Scenario D: validation passes but no ingredients come back.
	gw := &stubGateway{
		validationResp: foodValidationResp,
		extractionResp: `{"ingredients": []}`,
	}
	p := newTestPipeline(gw, Policy{ConfidenceThreshold: 0.7, TextFallback: false, CallTimeout: DefaultPolicy().CallTimeout})

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "", [][]byte{fakeImage()}))

	assert.False(t, st.Valid)
	assert.Contains(t, st.Warning, "Could not identify any food items")
	assert.Zero(t, gw.textCalls)
	assert.Nil(t, st.Recipe)
}

func TestRunGatewayFailureBecomesWarning(t *testing.T) {
	gw := &stubGateway{
		validationErr: fmt.Errorf("%w: connection refused", gateway.ErrUnavailable),
	}
	p := newTestPipeline(gw, Policy{ConfidenceThreshold: 0.7, TextFallback: false, CallTimeout: DefaultPolicy().CallTimeout})

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "", [][]byte{fakeImage()}))

	assert.False(t, st.Valid)
	assert.NotEmpty(t, st.Warning)
	// Raw transport errors never reach the user.
	assert.NotContains(t, st.Warning, "connection refused")
	assert.Nil(t, st.Recipe)
}

func TestRunMalformedValidationResponse(t *testing.T) {
	gw := &stubGateway{validationResp: "I cannot classify this image, sorry."}
	p := newTestPipeline(gw, Policy{ConfidenceThreshold: 0.7, TextFallback: false, CallTimeout: DefaultPolicy().CallTimeout})

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "", [][]byte{fakeImage()}))

	assert.False(t, st.Valid)
	assert.NotEmpty(t, st.Warning)
	assert.Zero(t, gw.textCalls)
}

func TestRunGenerateFailureLeavesWellDefinedState(t *testing.T) {
	gw := &stubGateway{textResp: "something that is not JSON at all"}
	p := newTestPipeline(gw, DefaultPolicy())

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "soup please", nil))

	assert.False(t, st.Valid)
	assert.Nil(t, st.Recipe)
	assert.NotEmpty(t, st.Warning)
}

func TestRunGenerateSchemaMismatch(t *testing.T) {
	gw := &stubGateway{textResp: `{"recipe_name": "Half a Recipe"}`}
	p := newTestPipeline(gw, DefaultPolicy())

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "soup please", nil))

	assert.False(t, st.Valid)
	assert.Nil(t, st.Recipe)
	assert.NotEmpty(t, st.Warning)
}

func TestRunTextFallbackAfterRejection(t *testing.T) {
	gw := &stubGateway{
		validationResp: laptopValidationResp,
		textResp:       breakfastRecipeResp,
	}
	p := newTestPipeline(gw, DefaultPolicy())

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "make me breakfast", [][]byte{fakeImage()}))

	assert.True(t, st.Fallback)
	assert.True(t, st.Valid)
	require.NotNil(t, st.Recipe)
	assert.Contains(t, st.Warning, "laptop", "the rejection reason is preserved for the response")
	assert.Zero(t, gw.extractCalls)
	assert.Equal(t, 1, gw.textCalls)
	assert.Contains(t, gw.lastTextPrompt, "No image was provided")
}

func TestRunTextFallbackDisabledByPolicy(t *testing.T) {
	gw := &stubGateway{
		validationResp: laptopValidationResp,
		textResp:       breakfastRecipeResp,
	}
	p := newTestPipeline(gw, Policy{ConfidenceThreshold: 0.7, TextFallback: false, CallTimeout: DefaultPolicy().CallTimeout})

	st := p.Run(context.Background(), NewPipelineState(HealthProfile{}, nil, "make me breakfast", [][]byte{fakeImage()}))

	assert.False(t, st.Valid)
	assert.False(t, st.Fallback)
	assert.Nil(t, st.Recipe)
	assert.Zero(t, gw.textCalls)
}

func TestRunIsDeterministic(t *testing.T) {
	policy := DefaultPolicy()
	run := func() *PipelineState {
		gw := &stubGateway{
			validationResp: foodValidationResp,
			extractionResp: spinachExtractionResp,
			textResp:       breakfastRecipeResp,
		}
		p := newTestPipeline(gw, policy)
		return p.Run(context.Background(), NewPipelineState(
			HealthProfile{"diet": "vegetarian"}, []string{"Dal"}, "quick dinner", [][]byte{fakeImage()}))
	}

	assert.Equal(t, run(), run())
}

func TestRunCancelledContextStopsStages(t *testing.T) {
	gw := &stubGateway{validationResp: foodValidationResp}
	p := newTestPipeline(gw, DefaultPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := p.Run(ctx, NewPipelineState(HealthProfile{}, nil, "", [][]byte{fakeImage()}))

	assert.False(t, st.Valid)
	assert.NotEmpty(t, st.Warning)
	assert.Zero(t, gw.validateCalls)
	assert.Zero(t, gw.textCalls)
}

func TestNextStageRouting(t *testing.T) {
	valid := &PipelineState{Valid: true, Images: [][]byte{fakeImage()}}
	invalid := &PipelineState{Valid: false}
	noImages := &PipelineState{Valid: true}
	generated := &PipelineState{Valid: true, Recipe: &RecipeResult{Name: "X"}}

	assert.Equal(t, StageExtract, NextStage(StageValidate, valid))
	assert.Equal(t, StageGenerate, NextStage(StageValidate, noImages))
	assert.Equal(t, StageFailed, NextStage(StageValidate, invalid))
	assert.Equal(t, StageGenerate, NextStage(StageExtract, valid))
	assert.Equal(t, StageFailed, NextStage(StageExtract, invalid))
	assert.Equal(t, StageDone, NextStage(StageGenerate, generated))
	assert.Equal(t, StageFailed, NextStage(StageGenerate, noImages))
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

func TestRunStreamSuccessOrdering(t *testing.T) {
	// Scenario E: streamed run of a valid one-image request.
	gw := &stubGateway{
		validationResp: foodValidationResp,
		extractionResp: spinachExtractionResp,
		textResp:       breakfastRecipeResp,
	}
	p := newTestPipeline(gw, DefaultPolicy())

	st := NewPipelineState(HealthProfile{}, nil, "", [][]byte{fakeImage()})
	events := collectEvents(t, p.RunStream(context.Background(), st))

	require.Equal(t, []string{EventStatus, EventValidation, EventStatus, EventRecipe, EventDone}, eventNames(events))

	validation, ok := events[1].Data.(ValidationData)
	require.True(t, ok)
	assert.True(t, validation.Valid)
	assert.Equal(t, []string{"spinach", "egg"}, validation.DetectedIngredients)

	rec, ok := events[3].Data.(*RecipeResult)
	require.True(t, ok)
	assert.Equal(t, "Spinach Egg Scramble", rec.Name)
}

func TestRunStreamErrorEndsStream(t *testing.T) {
	gw := &stubGateway{validationResp: laptopValidationResp}
	p := newTestPipeline(gw, DefaultPolicy())

	st := NewPipelineState(HealthProfile{}, nil, "", [][]byte{fakeImage()})
	events := collectEvents(t, p.RunStream(context.Background(), st))

	require.Equal(t, []string{EventStatus, EventValidation, EventError}, eventNames(events))

	validation := events[1].Data.(ValidationData)
	assert.False(t, validation.Valid)
	assert.Contains(t, validation.Warning, "laptop")

	errData := events[2].Data.(ErrorData)
	assert.Contains(t, errData.Message, "laptop")
}

func TestRunStreamFallbackOrdering(t *testing.T) {
	gw := &stubGateway{
		validationResp: laptopValidationResp,
		textResp:       breakfastRecipeResp,
	}
	p := newTestPipeline(gw, DefaultPolicy())

	st := NewPipelineState(HealthProfile{}, nil, "breakfast please", [][]byte{fakeImage()})
	events := collectEvents(t, p.RunStream(context.Background(), st))

	require.Equal(t, []string{EventStatus, EventValidation, EventStatus, EventStatus, EventRecipe, EventDone}, eventNames(events))

	fallback := events[2].Data.(StatusData)
	assert.Equal(t, "fallback", fallback.Step)
	generate := events[3].Data.(StatusData)
	assert.Equal(t, string(StageGenerate), generate.Step)
}

func TestRunAndStreamProduceIdenticalState(t *testing.T) {
	policy := DefaultPolicy()
	newGW := func() *stubGateway {
		return &stubGateway{
			validationResp: foodValidationResp,
			extractionResp: spinachExtractionResp,
			textResp:       breakfastRecipeResp,
		}
	}
	newState := func() *PipelineState {
		return NewPipelineState(HealthProfile{"goal": "bulk"}, []string{"Oats"}, "lunch", [][]byte{fakeImage()})
	}

	syncState := newTestPipeline(newGW(), policy).Run(context.Background(), newState())

	streamState := newState()
	for range newTestPipeline(newGW(), policy).RunStream(context.Background(), streamState) {
	}

	assert.Equal(t, syncState, streamState)
}
