package recipe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt builders are pure functions; keeping them together makes tuning the
// model behavior a single-file edit.

// systemPreamble frames every text generation call.
const systemPreamble = `You are a professional chef and nutritionist helping a user eat well on a budget. Always respond with clean JSON only, no markdown formatting.`

// validationPrompt instructs the model to classify an image strictly. The
// wording is deliberately biased toward rejection: a wrongly accepted
// non-food image wastes a generation call and confuses the user.
const validationPrompt = `You are an extremely strict food image validator. Your job is to determine whether an image contains food, ingredients, or cooking-related items.

CLASSIFY the image into one of these categories:
- FOOD: Cooked dishes, meals, prepared food
- INGREDIENTS: Raw vegetables, fruits, grains, spices, meat, dairy, etc.
- COOKING: Kitchen utensils with food, cooking in progress
- NOT_FOOD: Anything else (people, animals, landscapes, documents, screenshots, objects, selfies, memes, text, vehicles, buildings, etc.)

IMPORTANT RULES:
1. Be VERY strict. If there is ANY doubt, classify as NOT_FOOD.
2. An image of a person holding food is NOT_FOOD.
3. A restaurant menu or recipe text is NOT_FOOD.
4. A blurry or unclear image is NOT_FOOD.
5. A screenshot of food from the internet is NOT_FOOD.
6. Only classify as food if the PRIMARY subject of the image is clearly real food/ingredients.

Return ONLY this JSON (no extra text):
{
  "is_food": true/false,
  "confidence": 0.0 to 1.0,
  "detected_content": "brief description of what you see in the image",
  "category": "FOOD" or "INGREDIENTS" or "COOKING" or "NOT_FOOD"
}`

// extractionPrompt is sent only for images that already passed validation.
const extractionPrompt = `You are a food ingredient identifier. The image has already been verified to contain food.

Identify all visible food items, ingredients, vegetables, fruits, grains, proteins, and other edible items in the image.

Return ONLY this JSON:
{
  "ingredients": ["item1", "item2", "item3"]
}

Be specific (e.g., "red bell pepper" not just "pepper", "basmati rice" not just "rice").
List every distinct food item you can see.`

// ValidationPrompt returns the image classification prompt.
func ValidationPrompt() string { return validationPrompt }

// ExtractionPrompt returns the ingredient identification prompt.
func ExtractionPrompt() string { return extractionPrompt }

// RecipePrompt renders the recipe generation prompt from everything the
// pipeline has gathered. Ingredients may be empty for a text-only request;
// the prompt then says so explicitly instead of leaving the model to guess.
func RecipePrompt(profile HealthProfile, ingredients, previous []string, message string) string {
	var ingredientsSection string
	if len(ingredients) > 0 {
		ingredientsSection = fmt.Sprintf(`Ingredients from image: %s

Use the identified ingredients as the PRIMARY basis for the recipe.`, strings.Join(ingredients, ", "))
	} else {
		ingredientsSection = "No image was provided. Create a recipe based on the user message and profile."
	}

	profileJSON, err := json.Marshal(profile)
	if err != nil {
		profileJSON = []byte("{}")
	}

	previousSection := "none"
	if len(previous) > 0 {
		previousSection = strings.Join(previous, "; ")
	}

	return fmt.Sprintf(`User Profile: %s

User Message: %s

%s

Rules:
- Healthy and nutritious
- Budget friendly
- Under 30 minutes preparation
- Do not repeat previous recipes
- Match user's dietary preferences from profile
- Return step headings in plain text without any markdown formatting (no ** or * symbols)

Previous Recipes:
%s

Return JSON:
{
 "recipe_name":"",
 "ingredients":[],
 "steps":[],
 "calories":0,
 "protein":"",
 "best_time":"breakfast|lunch|dinner|snack",
 "reason":""
}`, profileJSON, message, ingredientsSection, previousSection)
}
