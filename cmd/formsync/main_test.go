package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/formsync/internal/analytics"
	"github.com/matthewbaird/formsync/internal/api"
	"github.com/matthewbaird/formsync/internal/config"
	"github.com/matthewbaird/formsync/internal/devserver"
	"github.com/matthewbaird/formsync/internal/form"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "watch", "edit", "draft", "validate"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, flag := range []string{"config", "env-file", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestValidateForm(t *testing.T) {
	var out bytes.Buffer
	err := validateForm(&out, []byte(`{"title":"Survey","fields":[{"id":"a","type":"rating","label":"Stars","order":0}]}`))
	require.NoError(t, err)
	assert.Contains(t, out.String(), `ok: "Survey" has 1 fields`)

	out.Reset()
	err = validateForm(&out, []byte(`{"title":"","fields":[]}`))
	assert.ErrorIs(t, err, errInvalidForm)
	assert.Contains(t, out.String(), form.MsgTitleRequired)
	assert.Contains(t, out.String(), form.MsgNoFields)

	err = validateForm(&out, []byte(`{"title":"x","fields":[{"id":"a","type":"slider","label":"S"}]}`))
	assert.Error(t, err, "unknown field types fail to decode")
	assert.NotErrorIs(t, err, errInvalidForm)
}

func TestDraftStoreSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger = zap.NewNop()
	c := config.Default()
	c.DraftBackend = config.BackendSQLite
	c.DraftPath = filepath.Join(t.TempDir(), "drafts.db")

	store, closeFn, err := openDraftStore(ctx, &c)
	require.NoError(t, err)
	f, _ := form.AddField(form.Form{Title: "Half done"}, form.FieldEmail)
	store.Save(ctx, f)
	require.NoError(t, closeFn())

	store, closeFn, err = openDraftStore(ctx, &c)
	require.NoError(t, err)
	defer closeFn()

	var out bytes.Buffer
	require.NoError(t, showDraft(ctx, &out, store))
	assert.Contains(t, out.String(), `"title": "Half done"`)

	store.Clear(ctx)
	out.Reset()
	require.NoError(t, showDraft(ctx, &out, store))
	assert.Equal(t, "no draft\n", out.String())
}

func TestPrintSnapshot(t *testing.T) {
	avg := 4.5
	var out bytes.Buffer
	printSnapshot(&out, analytics.Snapshot{Analytics: &analytics.Analytics{
		TotalResponses:  2,
		RecentResponses: 1,
		LastUpdated:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		FieldAnalytics: map[string]analytics.FieldStats{
			"r": {FieldLabel: "Stars", FieldType: form.FieldRating, ResponseCount: 2, AverageRating: &avg},
			"c": {FieldLabel: "Colour", FieldType: form.FieldMultipleChoice, ResponseCount: 2,
				OptionCounts: map[string]int{"Red": 1, "Blue": 1}},
		},
	}})
	s := out.String()
	assert.Contains(t, s, "2026-03-01 12:00:00  responses=2  last24h=1")
	assert.Contains(t, s, "avg 4.50")
	assert.Contains(t, s, `top "Blue" (1)`)
	assert.Less(t, strings.Index(s, "Colour"), strings.Index(s, "Stars"))

	out.Reset()
	printSnapshot(&out, analytics.Snapshot{Err: errors.New("HTTP 503")})
	assert.Equal(t, "refresh failed: HTTP 503\n", out.String())
}

func TestRunWatchFollowsNewResponses(t *testing.T) {
	srv := devserver.New(devserver.Config{})
	srvCtx, stopSrv := context.WithCancel(context.Background())
	srv.Start(srvCtx)
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		ts.Close()
		stopSrv()
		srv.Close()
	}()

	c := config.Default()
	c.APIBase = ts.URL + "/api"
	c.WSURL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c.PollInterval = config.MaxPollInterval
	cfg, logger = &c, zap.NewNop()

	client := api.New(c.APIBase)
	ctx := context.Background()
	f, _ := form.AddField(form.Form{Title: "Pulse"}, form.FieldRating)
	created, err := client.CreateForm(ctx, f)
	require.NoError(t, err)

	out := &lockedBuffer{}
	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- runWatch(watchCtx, out, created.ID) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "responses=0") },
		3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Hub().Clients() == 1 }, 3*time.Second, 10*time.Millisecond)

	_, err = client.SubmitResponse(ctx, created.ID, map[string]any{created.Fields[0].ID: 5})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "responses=1") },
		3*time.Second, 10*time.Millisecond, "a pushed new_response refreshes well before the next poll")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
