package jwtware

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	jwksRefreshInterval  = time.Hour
	jwksRefreshRateLimit = 5 * time.Minute
	jwksRefreshTimeout   = 10 * time.Second
)

var errNoKeySource = errors.New("one of Validator, JWKSetURLs or SigningKeys is required")

// keyfunc resolves verification keys from the static SigningKeys and, when
// present, the remote JWKSetURLs. Static keys win on a kid clash.
func (cfg *Config) keyfunc() (jwt.Keyfunc, error) {
	given := cfg.givenKeys()

	switch {
	case len(cfg.JWKSetURLs) > 0:
		sources := make(map[string]keyfunc.Options, len(cfg.JWKSetURLs))
		for _, url := range cfg.JWKSetURLs {
			sources[url] = keyfuncOptions(given, cfg.Logger)
		}
		multi, err := keyfunc.GetMultiple(sources, keyfunc.MultipleOptions{
			KeySelector: keyfunc.KeySelectorFirst,
		})
		if err != nil {
			return nil, fmt.Errorf("load JWK sets: %w", err)
		}
		return multi.Keyfunc, nil
	case len(given) > 0:
		return keyfunc.NewGiven(given).Keyfunc, nil
	default:
		return nil, errNoKeySource
	}
}

func (cfg *Config) givenKeys() map[string]keyfunc.GivenKey {
	if len(cfg.SigningKeys) == 0 {
		return nil
	}
	out := make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
	for kid, key := range cfg.SigningKeys {
		out[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
			Algorithm: key.JWTAlg,
		})
	}
	return out
}

type refreshLogger interface {
	Error(msg string, args ...any)
}

func keyfuncOptions(given map[string]keyfunc.GivenKey, logger refreshLogger) keyfunc.Options {
	if logger == nil {
		logger = stdLogger{}
	}
	return keyfunc.Options{
		GivenKeys: given,
		RefreshErrorHandler: func(err error) {
			logger.Error("jwks background refresh failed", "error", err)
		},
		RefreshInterval:   jwksRefreshInterval,
		RefreshRateLimit:  jwksRefreshRateLimit,
		RefreshTimeout:    jwksRefreshTimeout,
		RefreshUnknownKID: true,
	}
}

type stdLogger struct{}

func (stdLogger) Debug(msg string, args ...any) { log.Println(append([]any{"[DBG]", msg}, args...)...) }
func (stdLogger) Info(msg string, args ...any)  { log.Println(append([]any{"[INF]", msg}, args...)...) }
func (stdLogger) Warn(msg string, args ...any)  { log.Println(append([]any{"[WRN]", msg}, args...)...) }
func (stdLogger) Error(msg string, args ...any) { log.Println(append([]any{"[ERR]", msg}, args...)...) }
