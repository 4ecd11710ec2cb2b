package app

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/semi-cli/internal/cache"
	"github.com/ggonzalez94/semi-cli/internal/config"
	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/logging"
	"github.com/ggonzalez94/semi-cli/internal/model"
)

// stubBackend answers every Get with a fixed entry and records writes.
type stubBackend struct {
	entry  cache.Result
	writes map[string][]byte
}

func (b *stubBackend) Get(key string, maxStale time.Duration) (cache.Result, error) {
	return b.entry, nil
}

func (b *stubBackend) Set(key string, value []byte, ttl time.Duration) error {
	if b.writes == nil {
		b.writes = map[string][]byte{}
	}
	b.writes[key] = value
	return nil
}

func (b *stubBackend) Close() error { return nil }

type balancesEnvelope struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data"`
	Warnings []string       `json:"warnings"`
	Meta     struct {
		Cache     model.CacheStatus      `json:"cache"`
		Providers []model.ProviderStatus `json:"providers"`
		Partial   bool                   `json:"partial"`
	} `json:"meta"`
}

func staleEntry(age time.Duration) cache.Result {
	return cache.Result{Hit: true, Value: []byte(`{"native":"cached"}`), Age: age, Stale: true}
}

func rpcDown(calls *int, delay time.Duration) fetchFn {
	return func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		*calls++
		time.Sleep(delay)
		return nil, []model.ProviderStatus{{Name: "rpc", Status: "unavailable"}}, nil, false, clierr.New(clierr.CodeUnavailable, "rpc unavailable")
	}
}

func TestCachedCommandServesFreshHitWithoutFetching(t *testing.T) {
	backend := &stubBackend{entry: cache.Result{Hit: true, Value: []byte(`{"native":"cached"}`), Age: time.Second}}
	state, stdout := newCachedCommandState(backend, 5*time.Minute)

	calls := 0
	if err := state.runCachedCommand("balances", "k", balancesTTL, rpcDown(&calls, 0)); err != nil {
		t.Fatalf("runCachedCommand failed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("fresh hit must not fetch, got %d calls", calls)
	}
	env := decodeBalancesEnvelope(t, stdout)
	if env.Meta.Cache.Status != "hit" || env.Meta.Cache.Stale || env.Data["native"] != "cached" {
		t.Fatalf("unexpected fresh hit envelope %+v", env)
	}
}

func TestCachedCommandWritesThroughAfterExpiry(t *testing.T) {
	backend := &stubBackend{entry: staleEntry(time.Minute)}
	state, stdout := newCachedCommandState(backend, 5*time.Minute)

	err := state.runCachedCommand("balances", "balances-key", balancesTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		return map[string]any{"native": "live"}, []model.ProviderStatus{{Name: "rpc", Status: "ok", LatencyMS: 3}}, nil, false, nil
	})
	if err != nil {
		t.Fatalf("runCachedCommand failed: %v", err)
	}
	env := decodeBalancesEnvelope(t, stdout)
	if env.Data["native"] != "live" || env.Meta.Cache.Status != "write" {
		t.Fatalf("expected live data written to cache, got %+v", env)
	}
	if !strings.Contains(string(backend.writes["balances-key"]), "live") {
		t.Fatalf("expected cache write, got %v", backend.writes)
	}
}

func TestCachedCommandServesStaleWithinBudget(t *testing.T) {
	state, stdout := newCachedCommandState(&stubBackend{entry: staleEntry(time.Minute)}, 5*time.Minute)

	calls := 0
	if err := state.runCachedCommand("balances", "k", balancesTTL, rpcDown(&calls, 0)); err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one fetch attempt, got %d", calls)
	}
	env := decodeBalancesEnvelope(t, stdout)
	if env.Data["native"] != "cached" || !env.Meta.Cache.Stale {
		t.Fatalf("expected stale cached data, got %+v", env)
	}
	if len(env.Meta.Providers) != 1 || env.Meta.Providers[0].Status != "unavailable" {
		t.Fatalf("expected the failed provider in meta, got %+v", env.Meta.Providers)
	}
	if !containsWarning(env.Warnings, "provider fetch failed; serving stale data within max-stale budget") {
		t.Fatalf("expected stale warning, got %+v", env.Warnings)
	}
}

func TestCachedCommandRejectsStaleEntries(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		maxStale time.Duration
		noStale  bool
		delay    time.Duration
	}{
		{name: "beyond budget", age: time.Hour, maxStale: time.Minute},
		{name: "no stale flag", age: time.Minute, maxStale: time.Hour, noStale: true},
		{name: "fetch delay crosses budget", age: balancesTTL + time.Second - 20*time.Millisecond, maxStale: time.Second, delay: 50 * time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			state, stdout := newCachedCommandState(&stubBackend{entry: staleEntry(tc.age)}, tc.maxStale)
			state.settings.NoStale = tc.noStale

			calls := 0
			err := state.runCachedCommand("balances", "k", balancesTTL, rpcDown(&calls, tc.delay))
			if code := clierr.ExitCode(err); code != int(clierr.CodeStale) {
				t.Fatalf("expected stale exit, got %d err=%v", code, err)
			}
			if calls != 1 || stdout.Len() != 0 {
				t.Fatalf("expected one fetch and no output, got calls=%d out=%s", calls, stdout.String())
			}
		})
	}
}

func TestCachedCommandNeverMasksAuthErrors(t *testing.T) {
	state, _ := newCachedCommandState(&stubBackend{entry: staleEntry(time.Minute)}, time.Hour)
	err := state.runCachedCommand("nfts", "k", nftsTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
		return nil, []model.ProviderStatus{{Name: "thirdweb", Status: "auth_error"}}, nil, false, clierr.New(clierr.CodeAuth, "missing client id")
	})
	if code := clierr.ExitCode(err); code != int(clierr.CodeAuth) {
		t.Fatalf("expected auth exit, got %d err=%v", code, err)
	}
}

func TestStrictPartialKeepsDiagnosticsInErrorEnvelope(t *testing.T) {
	state, _ := newCachedCommandState(nil, time.Minute)
	state.settings.Strict = true

	err := state.emitPartial("history", model.HistoryResult{Count: 1},
		[]string{"tokentx feed failed: provider unavailable"},
		[]model.ProviderStatus{
			{Name: "txlistinternal", Status: "ok", LatencyMS: 12},
			{Name: "tokentx", Status: "unavailable", LatencyMS: 34},
		})
	if code := clierr.ExitCode(err); code != int(clierr.CodePartialStrict) {
		t.Fatalf("expected strict partial exit, got %d err=%v", code, err)
	}

	stderr := state.runner.stderr.(*bytes.Buffer)
	state.renderError("history", err, state.last)
	var env struct {
		Success  bool            `json:"success"`
		Warnings []string        `json:"warnings"`
		Error    model.ErrorBody `json:"error"`
		Meta     struct {
			Partial   bool                   `json:"partial"`
			Providers []model.ProviderStatus `json:"providers"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v output=%s", err, stderr.String())
	}
	if env.Success || env.Error.Type != "partial_results" || !env.Meta.Partial {
		t.Fatalf("unexpected strict envelope %+v", env)
	}
	if len(env.Meta.Providers) != 2 || !containsWarning(env.Warnings, "tokentx feed failed: provider unavailable") {
		t.Fatalf("expected diagnostics to survive, got %+v", env)
	}
}

func newCachedCommandState(backend cache.Backend, maxStale time.Duration) (*runtimeState, *bytes.Buffer) {
	stdout := &bytes.Buffer{}
	state := &runtimeState{
		runner: &Runner{stdout: stdout, stderr: &bytes.Buffer{}, now: time.Now},
		settings: config.Settings{
			OutputMode:   "json",
			Timeout:      2 * time.Second,
			CacheEnabled: backend != nil,
			MaxStale:     maxStale,
		},
		logger: logging.Discard(),
	}
	if backend != nil {
		state.cache = backend
	}
	return state, stdout
}

func decodeBalancesEnvelope(t *testing.T, buf *bytes.Buffer) balancesEnvelope {
	t.Helper()
	var env balancesEnvelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v output=%s", err, buf.String())
	}
	return env
}

func containsWarning(warnings []string, target string) bool {
	for _, warning := range warnings {
		if warning == target {
			return true
		}
	}
	return false
}
