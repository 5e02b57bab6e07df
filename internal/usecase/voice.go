package usecase

import (
	"context"
	"strings"

	"pillhelper/internal/domain"
	"pillhelper/internal/observability"
	"pillhelper/internal/ports"
)

// cantoneseProbe is checked at startup to warn when no Cantonese voice is installed.
const cantoneseProbe = "yue-HK"

var voiceCandidates = map[domain.Language][]string{
	domain.LanguageTraditionalChinese: {"yue-HK", "yue-Hant-HK", "zh-HK", "zh-TW"},
	domain.LanguageSimplifiedChinese:  {"zh-CN", "cmn-Hans-CN", "zh"},
	domain.LanguageEnglish:            {"en-US", "en-GB", "en"},
}

// remoteVoices are tried in order for Traditional Chinese when a cloud
// synthesis credential is configured.
var remoteVoices = []ports.RemoteVoice{
	{LanguageCode: "yue-HK", Name: "yue-HK-Standard-A"},
	{LanguageCode: "yue-HK", Name: "yue-HK-Wavenet-A"},
	{LanguageCode: "yue-HK"},
}

func candidatesFor(lang domain.Language) []string {
	if candidates, ok := voiceCandidates[lang]; ok {
		return candidates
	}
	return voiceCandidates[domain.LanguageTraditionalChinese]
}

// selectVoice returns the first candidate present in the supported set, then
// the first the engine reports as supported, and finally the last candidate.
func selectVoice(ctx context.Context, device ports.DeviceSpeech, supported []string, lang domain.Language) string {
	candidates := candidatesFor(lang)

	for _, candidate := range candidates {
		if containsTag(supported, candidate) {
			return candidate
		}
	}

	logger := observability.LoggerFromContext(ctx)
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		ok, err := device.IsLanguageSupported(ctx, candidate)
		if err != nil {
			logger.Debug().Err(err).Str("voice", candidate).Msg("voice support query failed")
			continue
		}
		if ok {
			return candidate
		}
	}

	return candidates[len(candidates)-1]
}

func containsTag(tags []string, tag string) bool {
	want := canonicalTag(tag)
	for _, candidate := range tags {
		if canonicalTag(candidate) == want {
			return true
		}
	}
	return false
}

func canonicalTag(tag string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
}
