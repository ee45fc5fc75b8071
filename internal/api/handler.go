package api

import (
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"

	"nutrichef/internal/question"
	"nutrichef/internal/recipe"
)

// allowedExtensions whitelists upload file types.
var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
}

// Handler handles HTTP requests.
type Handler struct {
	Pipeline  *recipe.Pipeline
	Questions *question.Service
	UploadDir string
	log       zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(pipeline *recipe.Pipeline, questions *question.Service, uploadDir string, log zerolog.Logger) *Handler {
	return &Handler{Pipeline: pipeline, Questions: questions, UploadDir: uploadDir, log: log}
}

// validationBlock reports the image analysis outcome in responses.
type validationBlock struct {
	Valid               bool     `json:"valid"`
	Warning             string   `json:"warning,omitempty"`
	DetectedIngredients []string `json:"detected_ingredients"`
}

// generateResponse is the synchronous endpoint's response body.
type generateResponse struct {
	Success    bool                 `json:"success"`
	Validation validationBlock      `json:"validation"`
	Recipe     *recipe.RecipeResult `json:"recipe,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// GenerateRecipe runs the full pipeline and returns the terminal state in a
// single response. Failures are structured payloads, never bare errors:
// partial results such as detected ingredients are preserved for the user.
func (h *Handler) GenerateRecipe(c *gin.Context) {
	state, err := h.parseGenerateRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	st := h.Pipeline.Run(c.Request.Context(), state)
	c.JSON(http.StatusOK, buildResponse(st))
}

// GenerateRecipeStream runs the pipeline with incremental delivery: one SSE
// event per stage boundary, so the client can render progress before the
// recipe is ready.
func (h *Handler) GenerateRecipeStream(c *gin.Context) {
	state, err := h.parseGenerateRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	events := h.Pipeline.RunStream(c.Request.Context(), state)
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(ev.Name, ev.Data)
		return true
	})
}

// GenerateQuestions handles the questionnaire endpoint: one stateless model
// call, no pipeline.
func (h *Handler) GenerateQuestions(c *gin.Context) {
	var req struct {
		HealthProfile recipe.HealthProfile `json:"health_profile" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fmt.Sprintf("invalid request body: %s", err.Error())})
		return
	}

	set, err := h.Questions.Generate(c.Request.Context(), req.HealthProfile)
	if err != nil {
		h.log.Error().Err(err).Msg("question generation failed")
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "Question generation failed. Please try again."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "questions": set.Questions})
}

// UploadImage accepts one image, downscales it, and stores it under the
// upload directory for a later generate call to reference by filename.
func (h *Handler) UploadImage(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fmt.Sprintf("get form err: %s", err.Error())})
		return
	}

	extension := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[extension] {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid file type. Only JPEG, JPG, and PNG images are allowed."})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to open file"})
		return
	}
	defer src.Close()

	imageData, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read file"})
		return
	}

	filename, err := h.saveImage(imageData, extension)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to save uploaded image")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to save image"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "filename": filename})
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "AI Backend Running"})
}

// parseGenerateRequest decodes the multipart form shared by both generate
// endpoints into a fresh pipeline state.
func (h *Handler) parseGenerateRequest(c *gin.Context) (*recipe.PipelineState, error) {
	profileJSON := c.PostForm("health_profile")
	if profileJSON == "" {
		return nil, fmt.Errorf("health_profile is required")
	}
	var profile recipe.HealthProfile
	if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
		return nil, fmt.Errorf("invalid health_profile JSON: %s", err.Error())
	}

	var previous []string
	if prevJSON := c.PostForm("previous_recipes"); prevJSON != "" {
		if err := json.Unmarshal([]byte(prevJSON), &previous); err != nil {
			return nil, fmt.Errorf("invalid previous_recipes JSON: %s", err.Error())
		}
	}

	message := c.PostForm("message")

	images, err := h.collectImages(c)
	if err != nil {
		return nil, err
	}

	return recipe.NewPipelineState(profile, previous, message, images), nil
}

// collectImages gathers image bytes from directly attached files and from
// previously uploaded filenames. Referenced files that no longer exist are
// skipped rather than failing the request.
func (h *Handler) collectImages(c *gin.Context) ([][]byte, error) {
	var images [][]byte

	form, err := c.MultipartForm()
	if err == nil && form != nil {
		for _, file := range form.File["images"] {
			extension := strings.ToLower(filepath.Ext(file.Filename))
			if !allowedExtensions[extension] {
				return nil, fmt.Errorf("invalid file type %q: only JPEG, JPG, and PNG images are allowed", extension)
			}
			src, err := file.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open uploaded file: %s", err.Error())
			}
			data, err := io.ReadAll(src)
			src.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read uploaded file: %s", err.Error())
			}
			images = append(images, data)
		}
	}

	if pathsJSON := c.PostForm("image_paths"); pathsJSON != "" {
		var names []string
		if err := json.Unmarshal([]byte(pathsJSON), &names); err != nil {
			return nil, fmt.Errorf("invalid image_paths JSON: %s", err.Error())
		}
		for _, name := range names {
			// Base strips any directory components a client might sneak in.
			path := filepath.Join(h.UploadDir, filepath.Base(name))
			data, err := os.ReadFile(path)
			if err != nil {
				h.log.Warn().Str("path", path).Msg("referenced image not found, skipping")
				continue
			}
			images = append(images, data)
		}
	}

	return images, nil
}

// buildResponse maps terminal pipeline state onto the response schema.
func buildResponse(st *recipe.PipelineState) generateResponse {
	detected := st.Ingredients
	if detected == nil {
		detected = []string{}
	}

	resp := generateResponse{
		Success: st.Recipe != nil,
		Validation: validationBlock{
			Valid:               st.Valid && !st.Fallback,
			Warning:             st.Warning,
			DetectedIngredients: detected,
		},
		Recipe: st.Recipe,
	}
	if !resp.Success {
		resp.Error = st.Warning
	}
	return resp
}

// saveImage decodes, downscales and writes an uploaded image, returning the
// generated filename. Downscaling keeps stored payloads and later model
// upload sizes reasonable.
func (h *Handler) saveImage(imageData []byte, extension string) (string, error) {
	img, _, err := image.Decode(strings.NewReader(string(imageData)))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	if img.Bounds().Dx() > 800 {
		img = resize.Resize(800, 0, img, resize.Lanczos3)
	}

	if err := os.MkdirAll(h.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	filename := uuid.New().String() + extension
	out, err := os.Create(filepath.Join(h.UploadDir, filename))
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer out.Close()

	switch extension {
	case ".jpeg", ".jpg":
		err = jpeg.Encode(out, img, nil)
	case ".png":
		err = png.Encode(out, img)
	default:
		return "", fmt.Errorf("unsupported image format: %s", extension)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	return filename, nil
}
