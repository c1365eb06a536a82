package domain

// Recommendation is one suggested title.
type Recommendation struct {
	Title  string `json:"title"`
	Genre  string `json:"genre"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// RecommendationResponse is the structured answer produced for a query.
type RecommendationResponse struct {
	Message         string           `json:"message"`
	Recommendations []Recommendation `json:"recommendations"`
}

// RecommendationSchema is the JSON schema the language model must answer with.
// The url field is filled from the index afterwards, so the model is not asked for it.
var RecommendationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"message": map[string]any{
			"type":        "string",
			"description": "A short friendly message introducing the recommendations",
		},
		"recommendations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":  map[string]any{"type": "string", "description": "Exact anime title from the context"},
					"genre":  map[string]any{"type": "string", "description": "Genres of the anime as listed in the context"},
					"reason": map[string]any{"type": "string", "description": "Why this anime matches the query"},
				},
				"required": []string{"title", "genre", "reason"},
			},
		},
	},
	"required": []string{"message", "recommendations"},
}
