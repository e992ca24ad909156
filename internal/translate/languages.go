package translate

// Language is one speakable language offered to clients, tagged with the
// BCP-47 code browser speech recognition expects.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Languages is the catalog served to clients for speaker-language selection.
var Languages = []Language{
	{Code: "en-IN", Name: "English (India)"},
	{Code: "en-US", Name: "English (US)"},
	{Code: "en-GB", Name: "English (UK)"},
	{Code: "hi-IN", Name: "Hindi"},
	{Code: "es-ES", Name: "Spanish (Spain)"},
	{Code: "es-MX", Name: "Spanish (Mexico)"},
	{Code: "fr-FR", Name: "French"},
	{Code: "de-DE", Name: "German"},
	{Code: "zh-CN", Name: "Chinese (Mandarin, China)"},
	{Code: "zh-TW", Name: "Chinese (Mandarin, Taiwan)"},
	{Code: "ar-SA", Name: "Arabic (Saudi Arabia)"},
	{Code: "ru-RU", Name: "Russian"},
	{Code: "pt-BR", Name: "Portuguese (Brazil)"},
	{Code: "ja-JP", Name: "Japanese"},
	{Code: "ko-KR", Name: "Korean"},
	{Code: "bn-BD", Name: "Bengali (Bangladesh)"},
	{Code: "bn-IN", Name: "Bengali (India)"},
	{Code: "pa-IN", Name: "Punjabi"},
	{Code: "te-IN", Name: "Telugu"},
	{Code: "ta-IN", Name: "Tamil"},
	{Code: "ml-IN", Name: "Malayalam"},
	{Code: "kn-IN", Name: "Kannada"},
	{Code: "mr-IN", Name: "Marathi"},
	{Code: "tr-TR", Name: "Turkish"},
	{Code: "vi-VN", Name: "Vietnamese"},
}
