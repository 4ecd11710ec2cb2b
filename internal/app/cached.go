package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/model"
)

const staleWarning = "provider fetch failed; serving stale data within max-stale budget"

type fetchFn func(ctx context.Context) (data any, providers []model.ProviderStatus, warnings []string, partial bool, err error)

// staleCopy is an expired cache entry held back in case the fetch fails.
type staleCopy struct {
	data       any
	age        time.Duration
	observedAt time.Time
}

func (c *staleCopy) currentAge() time.Duration {
	return c.age + time.Since(c.observedAt)
}

// runCachedCommand serves a fresh cache hit, otherwise fetches and writes
// through. When the fetch fails with a transient error an expired entry is
// served instead, as long as it is within ttl+max-stale.
func (s *runtimeState) runCachedCommand(path, key string, ttl time.Duration, fetch fetchFn) error {
	s.record(nil, nil, false)
	useCache := s.settings.CacheEnabled && s.cache != nil

	var stale *staleCopy
	if useCache {
		if hit, err := s.cache.Get(key, s.settings.MaxStale); err == nil && hit.Hit {
			var data any
			if codec.Unmarshal(hit.Value, &data) == nil {
				if !hit.Stale {
					return s.emitSuccess(path, data, nil, model.CacheStatus{Status: "hit", AgeMS: hit.Age.Milliseconds()}, nil, false)
				}
				stale = &staleCopy{data: data, age: hit.Age, observedAt: time.Now()}
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()
	data, providers, warnings, partial, err := fetch(ctx)
	s.record(warnings, providers, partial)

	if err != nil {
		if stale == nil || !transient(err) {
			return err
		}
		age := stale.currentAge()
		switch {
		case s.settings.NoStale:
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and stale fallback is disabled (--no-stale)", err)
		case staleExceedsBudget(age, ttl, s.settings.MaxStale):
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and cached data exceeded stale budget", err)
		}
		s.logger.Warn("serving stale cache entry", "command", path, "age_ms", age.Milliseconds(), "error", err)
		warnings = append(warnings, staleWarning)
		s.record(warnings, providers, false)
		return s.emitSuccess(path, stale.data, warnings, model.CacheStatus{Status: "hit", AgeMS: age.Milliseconds(), Stale: true}, providers, false)
	}

	if partial && s.settings.Strict {
		return clierr.New(clierr.CodePartialStrict, "partial results returned in strict mode")
	}

	cacheStatus := model.CacheStatus{Status: "miss"}
	if useCache {
		if payload, err := codec.Marshal(data); err == nil {
			if err := s.cache.Set(key, payload, ttl); err != nil {
				s.logger.Debug("cache write failed", "command", path, "error", err)
			} else {
				cacheStatus.Status = "write"
			}
		}
	}
	return s.emitSuccess(path, data, warnings, cacheStatus, providers, partial)
}

func cacheKey(path string, req any) string {
	buf, _ := codec.Marshal(req)
	sum := sha256.Sum256(append([]byte(path+"|"), buf...))
	return hex.EncodeToString(sum[:])
}

// A negative maxStale disables the budget.
func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	return maxStale >= 0 && age > ttl+maxStale
}

// transient reports whether err may be papered over with a stale response.
func transient(err error) bool {
	return clierr.IsCode(err, clierr.CodeUnavailable) || clierr.IsCode(err, clierr.CodeRateLimited)
}
