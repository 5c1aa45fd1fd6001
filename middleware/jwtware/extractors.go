package jwtware

import (
	"strings"

	"github.com/goliatone/go-router"
)

// JWTExtractor pulls a raw token out of a request
type JWTExtractor func(c router.Context) (string, error)

// tokenSources maps a TokenLookup source to the request accessor it reads.
var tokenSources = map[string]func(c router.Context, name string) string{
	"query": func(c router.Context, name string) string { return c.Query(name, "") },
	"param": func(c router.Context, name string) string { return c.Param(name) },
	"cookie": func(c router.Context, name string) string {
		return c.Cookies(name)
	},
}

// GetExtractors parses a lookup such as
// "header:Authorization,cookie:jwt,query:auth_token,param:token". Entries
// with an unknown source or without a name are skipped.
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	var extractors []JWTExtractor
	for _, entry := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(entry), ":")
		source, name = strings.TrimSpace(source), strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}

		if source == "header" {
			extractors = append(extractors, jwtFromHeader(name, authScheme))
			continue
		}

		if read, known := tokenSources[source]; known {
			extractors = append(extractors, jwtFrom(read, name))
		}
	}

	return extractors
}

// ExtractRawTokenFromContext returns the first token any extractor finds.
func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	err := ErrJWTMissingOrMalformed
	for _, extractor := range extractors {
		var raw string
		if raw, err = extractor(ctx); err == nil && raw != "" {
			return raw, nil
		}
	}
	return "", err
}

func jwtFrom(read func(router.Context, string) string, name string) JWTExtractor {
	return func(c router.Context) (string, error) {
		if token := read(c, name); token != "" {
			return token, nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromHeader expects "<scheme> <token>", matching the scheme case insensitively.
func jwtFromHeader(header, authScheme string) JWTExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c router.Context) (string, error) {
		value := c.GetString(header, "")
		n := len(authScheme)
		if n == 0 || len(value) <= n+1 || !strings.EqualFold(value[:n], authScheme) {
			return "", ErrJWTMissingOrMalformed
		}
		return strings.TrimSpace(value[n:]), nil
	}
}
