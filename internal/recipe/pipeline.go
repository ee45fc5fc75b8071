package recipe

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nutrichef/internal/gateway"
)

// Policy holds the tunable routing behavior of the pipeline. The thresholds
// are deliberately strict; see the validation stage for the reasoning.
type Policy struct {
	// ConfidenceThreshold rejects an image below this validation confidence
	// even when the model says it is food.
	ConfidenceThreshold float64
	// TextFallback lets a run whose images were rejected continue as a
	// text-only generation when the user also typed a message.
	TextFallback bool
	// CallTimeout bounds every individual gateway call.
	CallTimeout time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: 0.7,
		TextFallback:        true,
		CallTimeout:         45 * time.Second,
	}
}

// Pipeline runs the validate → extract → generate workflow for one recipe
// request. It is safe for concurrent use: all per-request data lives in the
// PipelineState, never in the Pipeline itself.
type Pipeline struct {
	gw     gateway.ModelGateway
	policy Policy
	log    zerolog.Logger
}

// NewPipeline wires a pipeline to a model gateway.
func NewPipeline(gw gateway.ModelGateway, policy Policy, log zerolog.Logger) *Pipeline {
	return &Pipeline{gw: gw, policy: policy, log: log}
}

// Stage names for the finite state machine and the streamed status events.
type Stage string

const (
	StageValidate Stage = "validate"
	StageExtract  Stage = "extract"
	StageGenerate Stage = "generate"
	StageDone     Stage = "done"
	StageFailed   Stage = "failed"
)

// NextStage is the routing table: given the stage that just ran and the
// resulting state, it returns the stage to run next.
func NextStage(cur Stage, st *PipelineState) Stage {
	switch cur {
	case StageValidate:
		if !st.Valid {
			return StageFailed
		}
		if len(st.Images) == 0 {
			return StageGenerate
		}
		return StageExtract
	case StageExtract:
		if !st.Valid {
			return StageFailed
		}
		return StageGenerate
	case StageGenerate:
		if !st.Valid || st.Recipe == nil {
			return StageFailed
		}
		return StageDone
	default:
		return StageFailed
	}
}

// Event is one unit of incremental delivery during a streamed run.
type Event struct {
	Name string
	Data any
}

// Event names, in the order a successful streamed run emits them:
// status(validate), validation, [status(fallback)], status(generate),
// recipe, done. Failures replace recipe with error and end the stream.
const (
	EventStatus     = "status"
	EventValidation = "validation"
	EventError      = "error"
	EventRecipe     = "recipe"
	EventDone       = "done"
)

// StatusData is the payload of a status event.
type StatusData struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// ValidationData reports the outcome of the image analysis phase.
type ValidationData struct {
	Valid               bool     `json:"valid"`
	DetectedIngredients []string `json:"detected_ingredients"`
	Warning             string   `json:"warning,omitempty"`
}

// ErrorData is the payload of a terminal error event.
type ErrorData struct {
	Message string `json:"message"`
}

// DoneData closes a successful stream.
type DoneData struct {
	Message string `json:"message"`
}

const warnCancelled = "Request was cancelled before the recipe was ready."

// Run executes the pipeline synchronously and returns the terminal state.
func (p *Pipeline) Run(ctx context.Context, st *PipelineState) *PipelineState {
	p.run(ctx, st, func(Event) bool { return true })
	return st
}

// RunStream executes the pipeline in a goroutine, emitting one event per
// stage boundary on the returned channel. The channel is closed when the run
// terminates. A cancelled context stops the run before the next stage;
// in-flight gateway calls are bounded by their own timeout.
func (p *Pipeline) RunStream(ctx context.Context, st *PipelineState) <-chan Event {
	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		p.run(ctx, st, func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return ch
}

// run drives the state machine. Both execution modes share it so that, for
// identical inputs and gateway responses, they produce identical final state.
// emit reports whether the consumer is still listening; once it returns false
// no further stages are started.
func (p *Pipeline) run(ctx context.Context, st *PipelineState, emit func(Event) bool) {
	firstStatus := "Analyzing images..."
	if len(st.Images) == 0 {
		firstStatus = "Generating recipe from your request..."
	}
	if !emit(Event{EventStatus, StatusData{Step: string(StageValidate), Message: firstStatus}}) {
		return
	}

	cur := StageValidate
	for cur != StageDone && cur != StageFailed {
		if ctx.Err() != nil {
			st.Valid = false
			if st.Warning == "" {
				st.Warning = warnCancelled
			}
			return
		}

		switch cur {
		case StageValidate:
			p.validateImages(ctx, st)
		case StageExtract:
			p.extractIngredients(ctx, st)
		case StageGenerate:
			p.generateRecipe(ctx, st)
		}

		next := NextStage(cur, st)

		// The image analysis phase is over once the next stage is not
		// extract; that is the point the validation verdict is complete
		// (including any detected ingredients) and can be delivered.
		imagePhase := cur == StageValidate || cur == StageExtract
		if imagePhase && next != StageExtract {
			if !emit(Event{EventValidation, ValidationData{
				Valid:               st.Valid,
				DetectedIngredients: ingredientsOrEmpty(st),
				Warning:             st.Warning,
			}}) {
				return
			}
		}

		// Text fallback is a router decision, not a stage one: a rejected
		// image batch with a typed message restarts the run in text-only
		// mode. Stages themselves never resurrect an invalid state.
		if cur == StageValidate && next == StageFailed &&
			p.policy.TextFallback && strings.TrimSpace(st.Message) != "" {
			p.log.Info().Msg("images rejected, falling back to text-only generation")
			st.Fallback = true
			st.Valid = true
			st.Images = nil
			if !emit(Event{EventStatus, StatusData{
				Step:    "fallback",
				Message: "Couldn't use the images, generating from your request instead...",
			}}) {
				return
			}
			next = StageGenerate
		}

		if next == StageGenerate {
			if !emit(Event{EventStatus, StatusData{
				Step:    string(StageGenerate),
				Message: "Generating your recipe...",
			}}) {
				return
			}
		}

		cur = next
	}

	if cur == StageFailed {
		msg := st.Warning
		if msg == "" {
			msg = warnGenerationFailed
			st.Warning = msg
		}
		emit(Event{EventError, ErrorData{Message: msg}})
		return
	}

	if !emit(Event{EventRecipe, st.Recipe}) {
		return
	}
	emit(Event{EventDone, DoneData{Message: "Recipe ready!"}})
}

// ingredientsOrEmpty keeps the JSON payload an empty array rather than null.
func ingredientsOrEmpty(st *PipelineState) []string {
	if st.Ingredients == nil {
		return []string{}
	}
	return st.Ingredients
}
