package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pillhelper/internal/domain"
)

var languageDirectives = map[domain.Language]string{
	domain.LanguageEnglish:            "Response must be in English.",
	domain.LanguageTraditionalChinese: "回應必須使用繁體中文（台灣習慣用詞，如稱呼藥片而非藥錠）。",
	domain.LanguageSimplifiedChinese:  "响应必须使用简体中文。",
}

const identifyInstruction = `Task: Identify the medication.
Instructions: Provide name, dosage, frequency, purpose, and precautions.
Language: %s
Return JSON format only.`

var requiredFields = []string{"name", "dosage", "frequency", "purpose", "precautions"}

func buildPrompt(lang domain.Language) (string, error) {
	directive, ok := languageDirectives[lang]
	if !ok {
		return "", fmt.Errorf("unsupported language %q", lang)
	}
	return fmt.Sprintf(identifyInstruction, directive), nil
}

func medicationSchema() responseSchema {
	properties := make(map[string]responseSchema, len(requiredFields))
	for _, field := range requiredFields {
		properties[field] = responseSchema{Type: "STRING"}
	}
	return responseSchema{
		Type:       "OBJECT",
		Properties: properties,
		Required:   append([]string(nil), requiredFields...),
	}
}

// stripDataURI drops a "data:<mime>;base64," header if present.
func stripDataURI(image string) string {
	trimmed := strings.TrimSpace(image)
	if i := strings.IndexByte(trimmed, ','); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

var errMissingField = errors.New("missing required field")

// parseMedicationRecord accepts only an object carrying all five fields as non-empty strings.
func parseMedicationRecord(text string) (domain.MedicationRecord, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	cleaned = strings.TrimSpace(cleaned)

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return domain.MedicationRecord{}, fmt.Errorf("failed to parse medication payload: %w", err)
	}

	values := make(map[string]string, len(requiredFields))
	for _, field := range requiredFields {
		raw, ok := payload[field]
		if !ok {
			return domain.MedicationRecord{}, fmt.Errorf("%w: %s", errMissingField, field)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return domain.MedicationRecord{}, fmt.Errorf("field %s is not a string: %w", field, err)
		}
		if strings.TrimSpace(value) == "" {
			return domain.MedicationRecord{}, fmt.Errorf("%w: %s", errMissingField, field)
		}
		values[field] = strings.TrimSpace(value)
	}

	return domain.MedicationRecord{
		Name:        values["name"],
		Dosage:      values["dosage"],
		Frequency:   values["frequency"],
		Purpose:     values["purpose"],
		Precautions: values["precautions"],
	}, nil
}
