package bridge

import (
	"fmt"
	"strings"
)

const (
	placeholderSport   = "Unknown"
	placeholderDetails = "No details available"
)

const systemPrompt = `You are SportMate, a friendly and knowledgeable sports assistant.
You help users with training advice, rules, tactics, fixtures, scores and general sports questions.
Each message carries the user's favorite sport and background, tailor your answers to them where it helps.
When the question needs current information such as live scores, recent results or upcoming fixtures, use the search tool instead of guessing.
Keep answers concise and practical.`

// composeInput folds what we know about the user into the turn. Missing
// profile fields fall back to neutral placeholders so the model never sees
// an empty slot.
func composeInput(message string, p UserProfile) string {
	sport := strings.TrimSpace(p.FavoriteSport)
	if sport == "" {
		sport = placeholderSport
	}
	details := strings.TrimSpace(p.Details)
	if details == "" {
		details = placeholderDetails
	}
	return fmt.Sprintf("%s\n\nFavorite Sport: %s\nDetails: %s", message, sport, details)
}
