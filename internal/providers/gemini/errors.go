package gemini

import (
	"strings"

	"pillhelper/internal/domain"
)

type messageSet struct {
	configuration string
	network       string
	authorization string
	unknown       string
	empty         string
	malformed     string
}

var messages = map[domain.Language]messageSet{
	domain.LanguageEnglish: {
		configuration: "API key (GEMINI_API_KEY) is missing: check the environment configuration.",
		network:       "Network connection failed: make sure the device is online and the app is allowed to access the internet.",
		authorization: "API access denied: check whether the API key is restricted in Google Cloud.",
		unknown:       "Identification failed. Make sure the text on the package is clear and try again.",
		empty:         "No result was returned. Please try again with a clearer photo.",
		malformed:     "The result could not be read. Please try again with a clearer photo.",
	},
	domain.LanguageTraditionalChinese: {
		configuration: "授權金鑰(API_KEY)缺失：請確認環境變數設定。",
		network:       "網路連線失敗：請確認裝置已開啟網路，並確認應用程式具有網路存取權限。",
		authorization: "API 存取受限：請檢查 Google Cloud 是否限制了 API 金鑰的使用來源。",
		unknown:       "辨識失敗，請確保藥盒文字清晰後重試。",
		empty:         "沒有取得辨識結果，請拍清楚一點後重試。",
		malformed:     "無法讀取辨識結果，請拍清楚一點後重試。",
	},
	domain.LanguageSimplifiedChinese: {
		configuration: "授权密钥(API_KEY)缺失：请确认环境变量设置。",
		network:       "网络连接失败：请确认设备已开启网络，并确认应用程序具有网络访问权限。",
		authorization: "API 访问受限：请检查 Google Cloud 是否限制了 API 密钥的使用来源。",
		unknown:       "识别失败，请确保药盒文字清晰后重试。",
		empty:         "没有取得识别结果，请拍清楚一点后重试。",
		malformed:     "无法读取识别结果，请拍清楚一点后重试。",
	},
}

func messagesFor(lang domain.Language) messageSet {
	if set, ok := messages[lang]; ok {
		return set
	}
	return messages[domain.LanguageTraditionalChinese]
}

var networkMarkers = []string{"FAILED TO FETCH", "NETWORK_ERROR"}

var authorizationMarkers = []string{"403", "PERMISSION_DENIED"}

// classify maps a raw upstream error onto network, authorization or unknown by substring.
// Matching is best-effort; it never returns nil for a non-nil err.
func classify(err error, lang domain.Language) *domain.IdentificationError {
	set := messagesFor(lang)
	text := strings.ToUpper(err.Error())

	for _, marker := range networkMarkers {
		if strings.Contains(text, marker) {
			return &domain.IdentificationError{Kind: domain.KindNetwork, Message: set.network, Err: err}
		}
	}
	for _, marker := range authorizationMarkers {
		if strings.Contains(text, marker) {
			return &domain.IdentificationError{Kind: domain.KindAuthorization, Message: set.authorization, Err: err}
		}
	}

	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = set.unknown
	}
	return &domain.IdentificationError{Kind: domain.KindUnknown, Message: message, Err: err}
}

func newError(kind domain.ErrorKind, lang domain.Language, err error) *domain.IdentificationError {
	set := messagesFor(lang)
	var message string
	switch kind {
	case domain.KindConfiguration:
		message = set.configuration
	case domain.KindEmptyResponse:
		message = set.empty
	case domain.KindMalformedResponse:
		message = set.malformed
	case domain.KindNetwork:
		message = set.network
	case domain.KindAuthorization:
		message = set.authorization
	default:
		message = set.unknown
	}
	return &domain.IdentificationError{Kind: kind, Message: message, Err: err}
}
