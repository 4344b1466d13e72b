package oauth1

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// Param - пара ключ/значение, участвующая в подписи
type Param struct {
	Key   string
	Value string
}

// Encode - процентное кодирование RFC 3986: без экранирования остаются только
// ALPHA, DIGIT и "-._~", пробел кодируется как %20
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// NormalizeURL приводит URL к виду для базовой строки:
// схема и хост в нижнем регистре, порт по умолчанию убран, без query и fragment
func NormalizeURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// NormalizeParams кодирует и сортирует параметры по ключу, затем по значению
func NormalizeParams(params []Param) string {
	encoded := make([]Param, len(params))
	for i, p := range params {
		encoded[i] = Param{Key: Encode(p.Key), Value: Encode(p.Value)}
	}
	sort.Slice(encoded, func(i, j int) bool {
		if encoded[i].Key != encoded[j].Key {
			return encoded[i].Key < encoded[j].Key
		}
		return encoded[i].Value < encoded[j].Value
	})

	parts := make([]string, len(encoded))
	for i, p := range encoded {
		parts[i] = p.Key + "=" + p.Value
	}
	return strings.Join(parts, "&")
}

// SignatureBaseString строит базовую строку: METHOD&enc(url)&enc(params).
// params включают oauth_* (кроме oauth_signature), параметры query и тела формы.
func SignatureBaseString(method string, u *url.URL, params []Param) string {
	all := make([]Param, 0, len(params)+len(u.Query()))
	all = append(all, params...)
	for k, vs := range u.Query() {
		for _, v := range vs {
			all = append(all, Param{Key: k, Value: v})
		}
	}

	return strings.ToUpper(method) + "&" + Encode(NormalizeURL(u)) + "&" + Encode(NormalizeParams(all))
}

// Sign вычисляет подпись HMAC-SHA1 с ключом enc(consumerSecret)&enc(tokenSecret).
// tokenSecret пуст на шаге запроса request token.
func Sign(baseString, consumerSecret, tokenSecret string) string {
	key := Encode(consumerSecret) + "&" + Encode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// AuthorizationHeader собирает заголовок "OAuth k="v", ..." из oauth_* параметров
func AuthorizationHeader(oauthParams []Param) string {
	sorted := append([]Param(nil), oauthParams...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = Encode(p.Key) + `="` + Encode(p.Value) + `"`
	}
	return "OAuth " + strings.Join(parts, ", ")
}
