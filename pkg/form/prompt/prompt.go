// Package prompt renders the two prompts sent to the language model: a system
// prompt describing the form and the extraction rules, and a client prompt
// carrying the user's transcript.
//
// Both functions are pure; identical inputs always produce identical output.
package prompt

import (
	"strconv"
	"strings"

	"github.com/MrWong99/voxfill/internal/transcript"
	"github.com/MrWong99/voxfill/pkg/form"
)

const intro = "You are an AI assistant that extracts structured data from speech input to fill out a form. "

const task = "\n\nYour task is to extract information from natural speech and return it as a valid JSON object with fields that match the form structure."

const requirements = `

CRITICAL REQUIREMENTS:
1. Return ONLY valid JSON - no explanations, no markdown, no additional text
2. Use null for missing fields - never omit fields
3. Follow the exact field structure specified below
4. Be conservative - only extract information that is explicitly mentioned
5. Handle various speech patterns, pauses, and natural language variations
6. Normalize data formats appropriately for each field type
7. For nested structures, create objects with the specified sub-fields
8. For arrays, return arrays of values
9. For select/radio fields, match the exact option text or value

FORM FIELDS TO EXTRACT:`

const rules = `

PARSING RULES:
- Extract information that matches the field names and types above
- For nested objects, use the exact sub-field names specified
- For date fields, use YYYY-MM-DD format when possible
- For phone numbers, normalize to digits only
- For email addresses, validate the format
- For select/radio fields, match the exact option text or value
- For arrays, collect all mentioned values
- Be conservative - only extract information you're confident about

NUMBER CONSOLIDATION RULES:
- CRITICAL: When you hear multiple digits spoken individually, ALWAYS consolidate them into a single number
- Examples: "seven five two four one" → "75241", "one two three" → "123", "two one four" → "214"
- This applies to ALL number fields: zip codes, phone numbers, house numbers, years, dates, etc.
- For phone numbers: consolidate all digits and remove formatting (dashes, spaces, parentheses)
- For dates: convert to YYYY-MM-DD format after consolidation
- For years: "nineteen sixty eight" → "1968", "twenty twenty four" → "2024"
- For addresses: "one two three Main Street" → "123 Main Street"
- For zip codes: "seven five two four one" → "75241"
- Always prioritize the consolidated numeric form over the spoken form

Remember: Return ONLY the JSON object, nothing else.`

// System renders the system prompt for schema.
func System(schema form.Schema) string {
	var b strings.Builder
	b.WriteString(intro)
	if schema.FormName != "" {
		b.WriteString(`The form is titled "`)
		b.WriteString(schema.FormName)
		b.WriteString(`". `)
	}
	b.WriteString(task)
	b.WriteString(requirements)
	b.WriteByte('\n')
	writeFields(&b, schema.Fields, "", 0)
	b.WriteString(rules)
	return b.String()
}

// writeFields lists fields one per line. Numbers are hierarchical ("2.1.")
// and every level is indented by two more spaces.
func writeFields(b *strings.Builder, fields []form.Field, prefix string, level int) {
	indent := strings.Repeat("  ", level)
	for i, f := range fields {
		number := prefix + strconv.Itoa(i+1) + "."

		b.WriteByte('\n')
		b.WriteString(indent)
		b.WriteString(number)
		b.WriteString(" **")
		b.WriteString(f.Name)
		b.WriteString("**")

		if f.Label != "" {
			b.WriteString(` (Label: "` + f.Label + `")`)
		}
		if f.Placeholder != "" {
			b.WriteString(` (Placeholder: "` + f.Placeholder + `")`)
		}
		b.WriteString(" - Type: ")
		b.WriteString(f.Type)
		if f.Required {
			b.WriteString(" [REQUIRED]")
		}
		if len(f.Options) > 0 {
			b.WriteString(" (Options: " + strings.Join(f.Options, ", ") + ")")
		}
		if f.Pattern != "" {
			b.WriteString(" (Pattern: " + f.Pattern + ")")
		}
		if f.MinLength > 0 || f.MaxLength > 0 {
			upper := "unlimited"
			if f.MaxLength > 0 {
				upper = strconv.Itoa(f.MaxLength)
			}
			b.WriteString(" (Length: " + strconv.Itoa(f.MinLength) + "-" + upper + ")")
		}

		if f.Group() {
			b.WriteByte('\n')
			b.WriteString(indent)
			b.WriteString("   Contains nested fields:")
			writeFields(b, f.Nested, number, level+1)
		}
	}
}

// Client renders the user prompt for a raw transcript. The transcript is
// preprocessed and sanitized before it is quoted into the prompt.
func Client(text string) string {
	clean := transcript.SanitizeForPrompt(transcript.Preprocess(text))
	return `Extract personal information from this speech transcript and return it as a JSON object following the exact structure specified in the system prompt.

IMPORTANT: Consolidate all spoken numbers into their numeric form (e.g., "seven five two four one" → "75241").

Speech transcript: "` + clean + `"

Return only the JSON object with the extracted information.`
}
