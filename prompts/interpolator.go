package prompts

import (
	"strings"
	"time"
)

// InterpolationContext contains the data available for variable substitution
// in prompt templates.
type InterpolationContext struct {
	Transcript string
	Date       string
	Lang       string
	Now        time.Time
}

// Interpolate replaces {{variable}} placeholders in a template string with
// actual values from the context.
func Interpolate(template string, ctx *InterpolationContext) string {
	result := template

	result = strings.ReplaceAll(result, "{{transcript}}", ctx.Transcript)
	result = strings.ReplaceAll(result, "{{date}}", ctx.Date)
	result = strings.ReplaceAll(result, "{{lang}}", langName(ctx.Lang))

	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	result = strings.ReplaceAll(result, "{{today}}", now.Format("2006-01-02"))
	result = strings.ReplaceAll(result, "{{datetime}}", now.Format(time.RFC3339))

	return result
}

func langName(code string) string {
	switch strings.ToLower(code) {
	case "", "en":
		return "English"
	case "ja":
		return "Japanese"
	case "pt":
		return "Portuguese"
	case "es":
		return "Spanish"
	default:
		return code
	}
}
