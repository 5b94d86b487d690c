package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/DeafMist/city-pulse/internal/models"
)

// maxPromptBody bounds the body text sent per record.
const maxPromptBody = 4000

type promptItem struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
	Body    string `json:"body_text"`
}

// BuildPrompt renders the classification instructions followed by the chunk as a JSON array.
func BuildPrompt(chunk []models.Record) (string, error) {
	items := make([]promptItem, 0, len(chunk))
	for _, r := range chunk {
		items = append(items, promptItem{
			ID:      r.ID,
			Kind:    string(r.Kind),
			Title:   r.Title,
			Summary: r.Summary,
			Body:    truncateRunes(r.Body, maxPromptBody),
		})
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal prompt items: %w", err)
	}

	var b strings.Builder
	b.WriteString("Given a list of news articles and social media posts about Jakarta, predict the following ")
	b.WriteString("categories for each item: topic classification, urgency level, sentiment, target audience, ")
	b.WriteString("affected region, a contextual summary and contextual keywords. ")
	b.WriteString("Return one JSON object per item, using the item's id as identifier.\n\nGuidelines:\n\n")

	writeChoices(&b, "1. Topic Classification: choose one of the following based on the main issue addressed:", Topics)
	b.WriteString("2. Urgency Level: an integer from 0 to 100, where 100 is the highest urgency. ")
	b.WriteString("It represents how quickly the issue needs to be addressed to minimize its impact.\n\n")
	writeChoices(&b, "3. Sentiment: one of:", Sentiments)
	writeChoices(&b, "4. Target Audience: the groups affected by or interested in the item, from:", Audiences)
	writeChoices(&b, "5. Affected Region: one of (DKI Jakarta for issues that affect all of Jakarta):", Regions)
	b.WriteString("6. Contextual Summary: a brief summary of the content capturing its main ideas, in Indonesian.\n\n")
	fmt.Fprintf(&b, "7. Contextual Keywords: the top %d words or phrases in Indonesian naming key themes, ", MaxKeywords)
	b.WriteString("brands, products, people, locations or technical details.\n\n")

	b.WriteString("Output format:\n")
	b.WriteString(`[{"id": <string>, "topic_classification": <string>, "urgency_level": <0-100>, "sentiment": <string>, `)
	b.WriteString(`"target_audience": [<string>], "affected_region": <string>, "contextual_summary": <string>, `)
	b.WriteString(`"contextual_keywords": [<string>]}]`)
	b.WriteString("\n\nItems:\n")
	b.Write(payload)

	return b.String(), nil
}

func writeChoices(b *strings.Builder, heading string, values []string) {
	b.WriteString(heading)
	b.WriteString("\n")
	for _, v := range values {
		b.WriteString("   - ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
