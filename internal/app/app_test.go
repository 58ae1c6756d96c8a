package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versecast/internal/config"
	"versecast/internal/pipeline"
)

type fakeChat struct{ reply string }

func (f fakeChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}}}, nil
}

type fakePush struct {
	mu   sync.Mutex
	msgs []*messaging.Message
}

func (f *fakePush) Send(_ context.Context, msg *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return "projects/test/messages/1", nil
}

func (f *fakePush) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func env(kv map[string]string) config.Getenv {
	return func(k string) string { return kv[k] }
}

var withKey = env(map[string]string{config.EnvOpenAIKey: "sk-test"})

func TestNewAppConfigurationErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	emptyCatalog := writeFile(t, dir, "empty.yaml", "[]\n")

	tests := []struct {
		name   string
		config string
		getenv config.Getenv
		field  string
	}{
		{
			name:   "empty catalog",
			config: "push:\n  provider: log\ncatalog:\n  path: " + emptyCatalog + "\n",
			getenv: withKey,
			field:  "catalog",
		},
		{
			name:   "missing api key",
			config: "push:\n  provider: log\n",
			getenv: env(nil),
			field:  config.EnvOpenAIKey,
		},
		{
			name:   "missing credentials",
			config: "push:\n  credentials_file: " + filepath.Join(dir, "nope.json") + "\n",
			getenv: withKey,
			field:  "push.credentials_file",
		},
		{
			name:   "bad schedule",
			config: "push:\n  provider: log\nscheduler:\n  schedule: sometimes\n",
			getenv: withKey,
			field:  "scheduler.schedule",
		},
		{
			name:   "unknown key",
			config: "push:\n  provider: log\n  topicc: x\n",
			getenv: withKey,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, t.TempDir(), "config.yaml", tt.config)
			_, err := NewApp(context.Background(), path, WithGetenv(tt.getenv), WithDotEnv(""), WithPushClient(&fakePush{}))
			require.Error(t, err)
			var ce *config.ConfigurationError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			if tt.field != "" {
				assert.Equal(t, tt.field, ce.Field)
			}
		})
	}
}

func TestRunOnceDeliversRewrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	catalogPath := writeFile(t, dir, "catalog.yaml", "- title: Hope\n  body: Hold on to hope, for God is near to the brokenhearted.\n")
	path := writeFile(t, dir, "config.yaml", "push:\n  provider: log\n  topic: test-topic\ncatalog:\n  path: "+catalogPath+"\n")

	fp := &fakePush{}
	a, err := NewApp(context.Background(), path,
		WithGetenv(withKey), WithDotEnv(""),
		WithChatClient(fakeChat{reply: "\"Hold on to hope; God is near.\""}),
		WithPushClient(fp),
	)
	require.NoError(t, err)

	res := a.RunOnce(context.Background())
	assert.Equal(t, pipeline.OutcomeDelivered, res.Outcome)
	require.Equal(t, 1, fp.count())
	msg := fp.msgs[0]
	assert.Equal(t, "test-topic", msg.Topic)
	assert.Equal(t, "Hope", msg.Notification.Title)
	assert.Equal(t, "Hold on to hope; God is near.", msg.Notification.Body)

	st := a.Status()
	require.NotNil(t, st.LastRun)
	assert.Equal(t, res.ID, st.LastRun.ID)
	assert.Equal(t, 1, st.CatalogSize)
}

func TestStartSchedulesAndStops(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
  "scheduler": {"schedule": "every:1s", "run_on_start": true},
  "rewrite": {"enabled": false},
  "push": {"provider": "log"}
}`)

	fp := &fakePush{}
	a, err := NewApp(context.Background(), path, WithGetenv(env(nil)), WithDotEnv(""), WithPushClient(fp))
	require.NoError(t, err)
	assert.Error(t, a.Ready())

	require.NoError(t, a.Start(context.Background()))
	assert.NoError(t, a.Ready())
	require.Eventually(t, func() bool { return fp.count() >= 2 }, 5*time.Second, 20*time.Millisecond)

	st := a.Status()
	require.NotNil(t, st.LastRun)
	assert.Equal(t, pipeline.OutcomeDelivered, st.LastRun.Outcome)
	assert.False(t, st.Rewrite)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopSignal))
	assert.Error(t, a.Ready())
	select {
	case <-a.Done():
	default:
		t.Fatal("app context not canceled after Stop")
	}
	assert.NoError(t, a.Err())
}

func TestRunOnStartIsCounted(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
  "scheduler": {"schedule": "every:1h", "run_on_start": true},
  "rewrite": {"enabled": false},
  "push": {"provider": "log"}
}`)

	reg := prometheus.NewRegistry()
	fp := &fakePush{}
	a, err := NewApp(context.Background(), path, WithGetenv(env(nil)), WithDotEnv(""), WithPushClient(fp), WithRegistry(reg))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopSignal)
	})

	require.Eventually(t, func() bool { return fp.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return schedulerTasks(t, reg, "started") == 1 && schedulerTasks(t, reg, "finished") == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func schedulerTasks(t *testing.T, reg *prometheus.Registry, event string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "versecast_scheduler_tasks_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "event" && lp.GetValue() == event {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestApplyConfigLiveAndRestartSections(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "scheduler:\n  schedule: \"06:00\"\nrewrite:\n  enabled: false\npush:\n  provider: log\n")

	a, err := NewApp(context.Background(), path, WithGetenv(env(nil)), WithDotEnv(""), WithPushClient(&fakePush{}))
	require.NoError(t, err)
	oldCfg := a.cfgm.Get()

	newCfg, err := config.ParseBytes("config.yaml", []byte("scheduler:\n  schedule: every:30m\nrewrite:\n  enabled: false\npush:\n  provider: log\n  topic: other\n"))
	require.NoError(t, err)
	a.applyConfig(context.Background(), oldCfg, newCfg)

	cur := a.Settings()
	assert.Equal(t, "every:30m", cur.Scheduler.Schedule)
	assert.Equal(t, config.DefaultTopic, cur.Push.Topic, "push changes need a restart")
	snap := a.sched.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "every:30m0s", snap.Schedules[0].Spec)
}
