package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

// LocaleKey addresses the negotiated locale in a request context.
var LocaleKey = localeContextKey{}

// supported lists the locales card copy can be generated in. The first
// entry is the fallback.
var supported = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.German,
	language.Indonesian,
	language.Japanese,
}

var matcher = language.NewMatcher(supported)

// Locale negotiates the request locale from an explicit X-Locale header or
// the Accept-Language header and stores it in the context. The locale feeds
// card copy generation, never content gating.
func Locale(defaultLocale string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	header := r.Header.Get("X-Locale")
	if header == "" {
		header = r.Header.Get("Accept-Language")
	}
	if header == "" {
		if fallback != "" {
			return fallback
		}
		return "en"
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		if fallback != "" {
			return fallback
		}
		return "en"
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		if fallback != "" {
			return fallback
		}
		return "en"
	}
	base, _ := supported[idx].Base()
	return base.String()
}

// LocaleFromContext returns the negotiated locale, defaulting to English.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return "en"
}
