package rewrite

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versecast/internal/message"
	logx "versecast/pkg/logx"
)

type fakeChat struct {
	reply string
	err   error
	block bool
	none  bool

	got []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = append(f.got, req)
	if f.block {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	if f.none {
		return openai.ChatCompletionResponse{}, nil
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply}},
	}}, nil
}

var hope = message.Draft{Title: "Hope", Body: "text..."}

func newRewriter(c ChatClient) *Rewriter {
	return New(c, Config{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 80, MaxChars: 130, Timeout: time.Second}, logx.Nop())
}

func TestRewriteReplacesBodyOnly(t *testing.T) {
	t.Parallel()

	fc := &fakeChat{reply: "Hold on to hope; God is near."}
	got, err := newRewriter(fc).Rewrite(context.Background(), hope)
	require.NoError(t, err)
	assert.Equal(t, message.Draft{Title: "Hope", Body: "Hold on to hope; God is near."}, got)

	require.Len(t, fc.got, 1)
	req := fc.got[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	assert.Equal(t, 80, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Title: Hope\nMessage: text...\n")
	assert.Contains(t, req.Messages[0].Content, "under 130 characters")
}

func TestRewriteOutputIsSingleLineAndBounded(t *testing.T) {
	t.Parallel()

	replies := []string{
		"  Pray today.\nGod hears you.  ",
		"\"Trust the Lord;\r\n\r\nHe is faithful.\"",
		"Line one\n\n\nline two\n",
		strings.Repeat("a", 130),
	}
	for _, r := range replies {
		got, err := newRewriter(&fakeChat{reply: r}).Rewrite(context.Background(), hope)
		require.NoError(t, err, r)
		assert.NotContains(t, got.Body, "\n")
		assert.NotContains(t, got.Body, "\r")
		assert.LessOrEqual(t, utf8.RuneCountInString(got.Body), 130)
		assert.Equal(t, hope.Title, got.Title)
	}
}

func TestRewriteFailuresReturnOriginal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fc   *fakeChat
		kind Kind
		temp bool
	}{
		{"transport", &fakeChat{err: errors.New("dial tcp: connection refused")}, KindTransport, true},
		{"auth", &fakeChat{err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}}, KindTransport, false},
		{"rate limited", &fakeChat{err: &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}}, KindTransport, true},
		{"server", &fakeChat{err: &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}}, KindTransport, true},
		{"no choices", &fakeChat{none: true}, KindEmpty, true},
		{"blank", &fakeChat{reply: " \n\t "}, KindEmpty, true},
		{"too long", &fakeChat{reply: strings.Repeat("é", 131)}, KindTooLong, true},
		{"timeout", &fakeChat{block: true}, KindTimeout, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := New(tc.fc, Config{Timeout: 20 * time.Millisecond}, logx.Nop())
			got, err := r.Rewrite(context.Background(), hope)
			require.Error(t, err)
			assert.Equal(t, hope, got)

			var re *Error
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tc.kind, re.Kind)
			assert.Equal(t, tc.temp, re.Temporary())
		})
	}
}

func TestRewriteCanceledByCaller(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := newRewriter(&fakeChat{block: true}).Rewrite(ctx, hope)
	assert.Equal(t, hope, got)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindCanceled, re.Kind)
	assert.False(t, re.Temporary())
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"plain", "plain"},
		{"  padded  ", "padded"},
		{"a\nb", "a b"},
		{"a  \n\n  b\r\nc", "a b c"},
		{`"quoted"`, "quoted"},
		{"“curly”", "curly"},
		{`"He said "yes" today"`, `"He said "yes" today"`},
		{"keep  inner  spacing", "keep  inner  spacing"},
		{"\n", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "%q", tc.in)
	}
}

func TestNewOpenAIClientTalksToBaseURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Rest in Christ today.\n"}}]}`))
	}))
	t.Cleanup(srv.Close)

	client := NewOpenAIClient("sk-test", srv.URL+"/v1/", 2*time.Second)
	got, err := New(client, Config{}, logx.Nop()).Rewrite(context.Background(), hope)
	require.NoError(t, err)
	assert.Equal(t, "Rest in Christ today.", got.Body)
}
