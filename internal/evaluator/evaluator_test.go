package evaluator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/timvw/sisqo/internal/prompt"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    prompt.Kind
		wantKey string
		wantErr bool
	}{
		{
			name: "password",
			raw:  `{"kind": "password", "line": "Kennwort:", "reason": "german password prompt"}`,
			want: prompt.KindPassword,
		},
		{
			name: "fenced",
			raw:  "```json\n{\"kind\": \"username\"}\n```",
			want: prompt.KindUsername,
		},
		{
			name:    "passphrase without key",
			raw:     `{"kind": "passphrase"}`,
			want:    prompt.KindPassphrase,
			wantKey: "???",
		},
		{
			name: "unrecognised kind",
			raw:  `{"kind": "token"}`,
			want: prompt.KindUnknown,
		},
		{
			name:    "not json",
			raw:     "It looks like a password prompt.",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerdict(tt.raw, "test")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVerdict: %v", err)
			}
			if got.Kind != tt.want {
				t.Errorf("kind: got %q, want %q", got.Kind, tt.want)
			}
			if got.Key != tt.wantKey {
				t.Errorf("key: got %q, want %q", got.Key, tt.wantKey)
			}
			if got.Source != "test" {
				t.Errorf("source: got %q, want %q", got.Source, "test")
			}
		})
	}
}

func TestUserMessageKeepsTail(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("banner line\r\n")
	}
	b.WriteString("Kennwort: ")

	msg := userMessage(b.String())
	if !strings.HasPrefix(msg, UserPromptTemplate) {
		t.Error("message does not start with the template")
	}
	body := strings.TrimPrefix(msg, UserPromptTemplate)
	if n := len(strings.Split(body, "\n")); n != screenTail {
		t.Errorf("got %d lines, want %d", n, screenTail)
	}
	if !strings.HasSuffix(body, "Kennwort: ") {
		t.Errorf("got %q, want the prompt line last", body)
	}
}

func TestNew(t *testing.T) {
	for _, p := range []string{"anthropic", "openai"} {
		e, err := New(p, Config{Model: "m"})
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if e.Provider() != p || e.Model() != "m" {
			t.Errorf("got %s/%s, want %s/m", e.Provider(), e.Model(), p)
		}
	}
	if _, err := New("bedrock", Config{}); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}

// fakeAPI answers every request with body and records the last request.
func fakeAPI(t *testing.T, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var last map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &last)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func TestAnthropicClassify(t *testing.T) {
	srv, last := fakeAPI(t, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "{\"kind\": \"password\", \"line\": \"Kennwort:\", \"reason\": \"asks for a password\"}"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 120, "output_tokens": 30}
	}`)

	e := NewAnthropicEvaluator(Config{BaseURL: srv.URL, APIKey: "test", Model: "claude-test"})
	res, err := e.Classify(context.Background(), "\r\nKennwort: ")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Kind != prompt.KindPassword || res.Source != "anthropic" {
		t.Errorf("got %+v", res)
	}
	if (*last)["model"] != "claude-test" {
		t.Errorf("request model: got %v", (*last)["model"])
	}
}

func TestOpenAIClassify(t *testing.T) {
	srv, last := fakeAPI(t, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1760000000,
		"model": "gpt-test",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "{\"kind\": \"host_key\", \"reason\": \"unknown host\"}"},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120}
	}`)

	e := NewOpenAIEvaluator(Config{BaseURL: srv.URL, APIKey: "test", Model: "gpt-test"})
	res, err := e.Classify(context.Background(), "Continuer la connexion (yes/no)? ")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Kind != prompt.KindHostKey || res.Source != "openai" {
		t.Errorf("got %+v", res)
	}
	if (*last)["model"] != "gpt-test" {
		t.Errorf("request model: got %v", (*last)["model"])
	}
}

func TestOpenAIClassifyEmptyChoices(t *testing.T) {
	srv, _ := fakeAPI(t, `{"id": "c", "object": "chat.completion", "created": 1, "model": "m", "choices": []}`)
	e := NewOpenAIEvaluator(Config{BaseURL: srv.URL, APIKey: "test", Model: "m"})
	if _, err := e.Classify(context.Background(), "??"); err == nil {
		t.Fatal("expected an error for an empty response")
	}
}

func TestFallbackToEvaluator(t *testing.T) {
	srv, _ := fakeAPI(t, `{
		"id": "msg_02", "type": "message", "role": "assistant", "model": "m",
		"content": [{"type": "text", "text": "{\"kind\": \"password\"}"}],
		"stop_reason": "end_turn", "usage": {"input_tokens": 1, "output_tokens": 1}
	}`)
	c := prompt.Fallback{
		Primary:   prompt.NewRegistry(),
		Secondary: NewAnthropicEvaluator(Config{BaseURL: srv.URL, APIKey: "test", Model: "m"}),
	}

	res, err := c.Classify(context.Background(), "Username: ")
	if err != nil || res.Source != "username" {
		t.Fatalf("registry hit: got %+v, %v", res, err)
	}
	res, err = c.Classify(context.Background(), "Mot de passe : ")
	if err != nil || res.Kind != prompt.KindPassword || res.Source != "anthropic" {
		t.Fatalf("llm fallback: got %+v, %v", res, err)
	}
}
