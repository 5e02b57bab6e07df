package usecase

import "pillhelper/internal/domain"

type utteranceFormat struct {
	sentence         string
	colon            string
	comma            string
	instructionLabel string
	precautionsLabel string
}

var utteranceFormats = map[domain.Language]utteranceFormat{
	domain.LanguageEnglish: {
		sentence: ". ", colon: ": ", comma: ", ",
		instructionLabel: "Instruction", precautionsLabel: "Precautions",
	},
	domain.LanguageTraditionalChinese: {
		sentence: "。", colon: "：", comma: "，",
		instructionLabel: "服用方法", precautionsLabel: "注意事項",
	},
	domain.LanguageSimplifiedChinese: {
		sentence: "。", colon: "：", comma: "，",
		instructionLabel: "服用方法", precautionsLabel: "注意事项",
	},
}

// composeUtterance builds the spoken text: name, instruction (dosage and
// frequency), then precautions.
func composeUtterance(record domain.MedicationRecord, lang domain.Language) string {
	f, ok := utteranceFormats[lang]
	if !ok {
		f = utteranceFormats[domain.LanguageTraditionalChinese]
	}
	return record.Name + f.sentence +
		f.instructionLabel + f.colon + record.Dosage + f.comma + record.Frequency + f.sentence +
		f.precautionsLabel + f.colon + record.Precautions
}
