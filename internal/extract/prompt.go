package extract

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/conflictwatch/internal/article"
)

const systemPrompt = `You extract conflict-intelligence fields from short news reports about Nigeria.

Return ONLY a single valid JSON object, no prose and no code fences, with exactly these keys:
{
  "event_type": one of "clash", "conflict", "violence", "protest", "political", "security", "crime", "economic", "social", "unknown",
  "state": the Nigerian state where the event happened, or "" if not stated,
  "lga": the local government area, or "" if not stated,
  "severity": one of "low", "medium", "high", "critical",
  "sentiment_intensity": integer 0-100 for how inflammatory the language is, or null,
  "hate_speech_indicators": array of short strings naming hate-speech signals found, [] if none,
  "conflict_driver": one of "Economic", "Environmental", "Social", or null
}

Use the key names exactly as written. Do not add other keys.`

func buildPrompt(a *article.RawArticle) string {
	content := strings.TrimSpace(a.Content)
	content = article.Truncate(content, maxContentChars)
	return fmt.Sprintf("Title: %s\n\nArticle:\n%s", strings.TrimSpace(a.Title), content)
}
