package deepgram

import (
	"strings"
	"unicode"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/sjawhar/doobs/internal/recognition"
)

const authRejectedDetail = "Deepgram rejected the API key"

var (
	authTokens    = tokenSet("401", "403", "unauthorized", "unauthenticated", "forbidden", "credentials")
	networkTokens = tokenSet("net", "network", "websocket", "connection", "timeout", "dial", "eof", "1006", "1011")
)

// classifyError maps a Deepgram error onto the recognition taxonomy. A
// rejected API key is a configuration problem, not a microphone permission,
// so it is reported as other with an explanatory detail.
func classifyError(er *api.ErrorResponse) (recognition.ErrorCode, string) {
	if er == nil {
		return recognition.CodeOther, ""
	}
	detail := errorDetail(er)
	tokens := tokenize(er.ErrCode + " " + er.Description)
	switch {
	case tokens.any(authTokens):
		if detail == "" {
			return recognition.CodeOther, authRejectedDetail
		}
		return recognition.CodeOther, authRejectedDetail + ": " + detail
	case tokens.any(networkTokens):
		return recognition.CodeNetwork, detail
	default:
		return recognition.CodeOther, detail
	}
}

func errorDetail(er *api.ErrorResponse) string {
	if er == nil {
		return ""
	}
	for _, candidate := range []string{er.Description, er.ErrCode} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate
		}
	}
	return ""
}

type tokens map[string]struct{}

func tokenSet(words ...string) tokens {
	set := make(tokens, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// tokenize splits text into lower-case runs of letters and digits.
func tokenize(text string) tokens {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return tokenSet(fields...)
}

func (t tokens) any(want tokens) bool {
	for w := range want {
		if _, ok := t[w]; ok {
			return true
		}
	}
	return false
}
