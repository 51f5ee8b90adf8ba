package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves the draft and exam endpoints from memory.
type fakeBackend struct {
	mu        sync.Mutex
	drafts    []map[string]any
	submitted int
	deadline  time.Time
	authz     []string
}

func (b *fakeBackend) reply(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (b *fakeBackend) fail(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": nil, "error": map[string]string{"code": code, "message": code}})
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authz = append(b.authz, r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/drafts/latest"):
		if len(b.drafts) == 0 {
			b.reply(w, http.StatusOK, map[string]any{"draft": nil})
			return
		}
		b.reply(w, http.StatusOK, map[string]any{"draft": b.drafts[len(b.drafts)-1]})

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/drafts"):
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		d := map[string]any{
			"id":         "d" + string(rune('0'+len(b.drafts))),
			"problem_id": strings.Split(r.URL.Path, "/")[3],
			"language":   req["language"],
			"code":       req["code"],
			"save_type":  req["save_type"],
			"created_at": time.Now().UTC(),
		}
		b.drafts = append(b.drafts, d)
		b.reply(w, http.StatusCreated, map[string]any{"draft": d})

	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/drafts"):
		out := make([]map[string]any, 0, len(b.drafts))
		for i := len(b.drafts) - 1; i >= 0; i-- {
			out = append(out, b.drafts[i])
		}
		b.reply(w, http.StatusOK, map[string]any{"drafts": out})

	case strings.HasSuffix(r.URL.Path, "/start"), strings.HasSuffix(r.URL.Path, "/state"):
		b.reply(w, http.StatusOK, map[string]any{
			"session_id": "s1",
			"status":     "IN_PROGRESS",
			"remaining_time": map[string]any{
				"remaining_seconds": 0,
				"deadline":          b.deadline,
			},
		})

	case strings.HasSuffix(r.URL.Path, "/submit"):
		b.submitted++
		if b.submitted > 1 {
			b.fail(w, http.StatusConflict, "ALREADY_SUBMITTED")
			return
		}
		b.reply(w, http.StatusOK, map[string]any{"status": "COMPLETED"})

	default:
		b.fail(w, http.StatusNotFound, "NOT_FOUND")
	}
}

// run executes draftctl in an isolated home and working directory.
func run(t *testing.T, backend *httptest.Server, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{
		"--api-url", backend.URL + "/api/v1",
		"--token", "tok",
		"--log-level", "error",
	}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestDraftSaveShowHistory(t *testing.T) {
	dir := isolate(t)
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	file := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(file, []byte("package main\n\nfunc main() {}\n"), 0o644))

	out, _, err := run(t, srv, "", "draft", "save", "-p", "two-sum", "-l", "go", "-f", file)
	require.NoError(t, err)
	assert.Contains(t, out, "status=success")

	fb.mu.Lock()
	require.Len(t, fb.drafts, 1)
	assert.Equal(t, "manual_save", fb.drafts[0]["save_type"])
	assert.Equal(t, "Bearer tok", fb.authz[len(fb.authz)-1])
	fb.mu.Unlock()

	out, _, err = run(t, srv, "", "draft", "show", "-p", "two-sum", "-l", "go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", out)

	out, _, err = run(t, srv, "", "draft", "history", "-p", "two-sum")
	require.NoError(t, err)
	assert.Contains(t, out, "SAVED AT")
	assert.Contains(t, out, "package main")
}

func TestDraftPullPrefersRemote(t *testing.T) {
	isolate(t)
	fb := &fakeBackend{drafts: []map[string]any{{
		"id": "d0", "problem_id": "two-sum", "language": "go",
		"code": "remote code", "save_type": "auto_save", "created_at": time.Now().UTC(),
	}}}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	out, stderr, err := run(t, srv, "", "draft", "pull", "-p", "two-sum", "-l", "go")
	require.NoError(t, err)
	assert.Equal(t, "remote code", out)
	assert.Contains(t, stderr, "source=remote")
	assert.Contains(t, stderr, "origin=auto")
}

func TestDraftShowWithoutCache(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(&fakeBackend{})
	defer srv.Close()

	_, _, err := run(t, srv, "", "draft", "show", "-p", "two-sum", "-l", "go")
	assert.ErrorContains(t, err, "no local draft")
}

func TestExamTakeSubmitsAtDeadline(t *testing.T) {
	dir := isolate(t)
	answers := filepath.Join(dir, "answers.json")
	require.NoError(t, os.WriteFile(answers, []byte(`{"q1":"A"}`), 0o644))

	fb := &fakeBackend{deadline: time.Now().Add(-time.Second).UTC()}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	out, _, err := run(t, srv, "", "exam", "take", "--exam", "e1", "--answers", answers)
	require.NoError(t, err)
	assert.Contains(t, out, "Time is up")

	// A second run finds the exam already handed in and still succeeds.
	_, _, err = run(t, srv, "", "exam", "take", "--exam", "e1", "--answers", answers)
	require.NoError(t, err)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, 2, fb.submitted)
}

func TestAuthLoginWritesConfig(t *testing.T) {
	dir := isolate(t)
	srv := httptest.NewServer(&fakeBackend{})
	defer srv.Close()

	out, _, err := run(t, srv, "new-token\n", "auth", "login")
	require.NoError(t, err)

	path := filepath.Join(dir, ".config", "draftctl", "draftctl.yaml")
	assert.Contains(t, out, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "token: new-token")
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "00:00", formatRemaining(0))
	assert.Equal(t, "01:05", formatRemaining(65))
	assert.Equal(t, "1:00:01", formatRemaining(3601))
}

func TestReadAnswers(t *testing.T) {
	raw, err := readAnswers("")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = readAnswers(bad)
	assert.ErrorContains(t, err, "not valid JSON")
}
