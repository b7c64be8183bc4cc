package filter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gerrit-watch/internal/config"
	"gerrit-watch/internal/models"
)

func event(project string) *models.Event {
	return &models.Event{
		Type:   models.TypePatchsetCreated,
		Change: models.Change{Project: project, URL: "https://review/c/" + project},
	}
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "filter.js")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDisabledAcceptsEverything(t *testing.T) {
	logger, _ := test.NewNullLogger()
	f, err := New(nil, logger)
	require.NoError(t, err)
	assert.NoError(t, f.Apply(event("anything")))

	f, err = New(&config.FilterConfig{Rules: []config.FilterRule{{Project: "**", Exclude: true}}}, logger)
	require.NoError(t, err)
	assert.NoError(t, f.Apply(event("anything")))
}

func TestRulesFirstMatchWins(t *testing.T) {
	logger, _ := test.NewNullLogger()
	f, err := New(&config.FilterConfig{
		Enabled: true,
		Rules: []config.FilterRule{
			{Project: "platform/keep"},
			{Project: "platform/**", Exclude: true},
			{Project: "sandbox-*", Exclude: true},
		},
	}, logger)
	require.NoError(t, err)

	assert.NoError(t, f.Apply(event("platform/keep")))
	assert.ErrorIs(t, f.Apply(event("platform/drop/deep")), ErrEventRejected)
	assert.ErrorIs(t, f.Apply(event("sandbox-jdoe")), ErrEventRejected)
	assert.NoError(t, f.Apply(event("core")))
}

func TestInvalidRulePattern(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := New(&config.FilterConfig{
		Enabled: true,
		Rules:   []config.FilterRule{{Project: "platform/[unclosed"}},
	}, logger)
	assert.ErrorContains(t, err, "invalid project pattern")
}

func TestScriptAnonymousFunction(t *testing.T) {
	logger, hook := test.NewNullLogger()
	path := writeScript(t, t.TempDir(), `(function(event) {
		console.log("saw " + event.change.project);
		return event.change.project !== "noise";
	})`)

	f, err := New(&config.FilterConfig{Enabled: true, Script: path}, logger)
	require.NoError(t, err)

	assert.NoError(t, f.Apply(event("core")))
	assert.ErrorIs(t, f.Apply(event("noise")), ErrEventRejected)

	var logged bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.InfoLevel && entry.Message == "saw core" {
			logged = true
		}
	}
	assert.True(t, logged, "console.log should reach the logger")
}

func TestScriptNamedTransformReturningNull(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := writeScript(t, t.TempDir(), `function transform(event) {
		if (event.type === "comment-added") { return null; }
		return event;
	}`)

	f, err := New(&config.FilterConfig{Enabled: true, Script: path}, logger)
	require.NoError(t, err)

	assert.NoError(t, f.Apply(event("core")))
	comment := event("core")
	comment.Type = models.TypeCommentAdded
	assert.ErrorIs(t, f.Apply(comment), ErrEventRejected)
}

func TestScriptValidation(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()

	_, err := New(&config.FilterConfig{Enabled: true, Script: writeScript(t, dir, `var x = 1;`)}, logger)
	assert.ErrorContains(t, err, "script must export a function")

	_, err = New(&config.FilterConfig{Enabled: true, Script: filepath.Join(dir, "missing.js")}, logger)
	assert.ErrorContains(t, err, "failed to read filter script")
}

func TestScriptRuntimeError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := writeScript(t, t.TempDir(), `(function(event) { return event.missing.field; })`)
	f, err := New(&config.FilterConfig{Enabled: true, Script: path}, logger)
	require.NoError(t, err)

	err = f.Apply(event("core"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEventRejected)
}

func TestWatchReloadsScript(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	path := writeScript(t, dir, `(function(event) { return true; })`)

	f, err := New(&config.FilterConfig{Enabled: true, Script: path}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher a moment to register before rewriting the file.
	time.Sleep(100 * time.Millisecond)
	writeScript(t, dir, `(function(event) { return false; })`)

	assert.Eventually(t, func() bool {
		return f.Apply(event("core")) == ErrEventRejected
	}, 5*time.Second, 20*time.Millisecond)

	// A broken rewrite keeps the last good script.
	writeScript(t, dir, `not javascript at all (`)
	time.Sleep(200 * time.Millisecond)
	assert.ErrorIs(t, f.Apply(event("core")), ErrEventRejected)
}
