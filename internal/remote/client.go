// Package remote is the client for the backend's draft and exam endpoints.
// Every call carries its own timeout; a call that times out is reported to
// the caller immediately and whatever the server answers later is dropped.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/draftsync/internal/draft"
)

// Options configures per-operation timeouts.
type Options struct {
	DraftTimeout  time.Duration
	ExamTimeout   time.Duration
	SubmitTimeout time.Duration
}

// DefaultOptions match the limits the web client has always used.
var DefaultOptions = Options{
	DraftTimeout:  10 * time.Second,
	ExamTimeout:   10 * time.Second,
	SubmitTimeout: 30 * time.Second,
}

// Client calls the backend through a Transport.
type Client struct {
	transport Transport
	opts      Options
	log       zerolog.Logger

	mu        sync.Mutex
	inflight  map[string]uint64
	seq       uint64
	discarded int
}

// NewClient creates a Client. Zero timeouts fall back to DefaultOptions.
func NewClient(transport Transport, opts Options, log zerolog.Logger) *Client {
	if opts.DraftTimeout <= 0 {
		opts.DraftTimeout = DefaultOptions.DraftTimeout
	}
	if opts.ExamTimeout <= 0 {
		opts.ExamTimeout = DefaultOptions.ExamTimeout
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultOptions.SubmitTimeout
	}
	return &Client{
		transport: transport,
		opts:      opts,
		log:       log.With().Str("component", "remote_client").Logger(),
		inflight:  make(map[string]uint64),
	}
}

// codeDraft is the backend's draft representation.
type codeDraft struct {
	ID        string    `json:"id"`
	ProblemID string    `json:"problem_id"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	SaveType  string    `json:"save_type"`
	CreatedAt time.Time `json:"created_at"`
}

func (d codeDraft) record() draft.Record {
	return draft.Record{
		SubjectID: d.ProblemID,
		Variant:   d.Language,
		Content:   d.Code,
		SavedAt:   d.CreatedAt,
		Origin:    draft.ParseOrigin(d.SaveType),
	}
}

type draftEnvelope struct {
	Draft *codeDraft `json:"draft"`
}

// FetchLatest returns the newest remote draft, or nil if none exists.
func (c *Client) FetchLatest(ctx context.Context, subjectID, variant string) (*draft.Record, error) {
	const op = "fetch_latest"
	path := fmt.Sprintf("/student/problems/%s/drafts/latest", url.PathEscape(subjectID))
	query := url.Values{}
	if variant != "" {
		query.Set("language", variant)
	}

	body, err := c.call(ctx, op, subjectID, c.opts.DraftTimeout, func(ctx context.Context) ([]byte, error) {
		return c.transport.Load(ctx, path, query)
	})
	if err != nil {
		return nil, err
	}

	var out draftEnvelope
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Op: op, Kind: KindNetwork, Err: fmt.Errorf("decode draft: %w", err)}
	}
	if out.Draft == nil {
		return nil, nil
	}
	rec := out.Draft.record()
	if rec.SubjectID == "" {
		rec.SubjectID = subjectID
	}
	return &rec, nil
}

// Persist stores content as a new remote draft. The returned record carries
// the server-assigned SavedAt.
func (c *Client) Persist(ctx context.Context, subjectID, variant, content string, origin draft.Origin) (draft.Record, error) {
	const op = "persist"
	path := fmt.Sprintf("/student/problems/%s/drafts", url.PathEscape(subjectID))
	payload := map[string]string{
		"code":      content,
		"language":  variant,
		"save_type": origin.SaveType(),
	}

	body, err := c.call(ctx, op, subjectID, c.opts.DraftTimeout, func(ctx context.Context) ([]byte, error) {
		return c.transport.Submit(ctx, path, payload)
	})
	if err != nil {
		return draft.Record{}, err
	}

	var out draftEnvelope
	if err := json.Unmarshal(body, &out); err != nil || out.Draft == nil {
		if err == nil {
			err = fmt.Errorf("response has no draft")
		}
		return draft.Record{}, &Error{Op: op, Kind: KindNetwork, Err: err}
	}
	rec := out.Draft.record()
	if rec.SubjectID == "" {
		rec.SubjectID = subjectID
	}
	if rec.Variant == "" {
		rec.Variant = variant
	}
	return rec, nil
}

// History returns up to limit recent remote drafts, newest first.
func (c *Client) History(ctx context.Context, subjectID, variant string, limit int) ([]draft.Record, error) {
	const op = "history"
	path := fmt.Sprintf("/student/problems/%s/drafts", url.PathEscape(subjectID))
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if variant != "" {
		query.Set("language", variant)
	}

	body, err := c.call(ctx, op, subjectID, c.opts.DraftTimeout, func(ctx context.Context) ([]byte, error) {
		return c.transport.Load(ctx, path, query)
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Drafts []codeDraft `json:"drafts"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Op: op, Kind: KindNetwork, Err: fmt.Errorf("decode drafts: %w", err)}
	}
	records := make([]draft.Record, 0, len(out.Drafts))
	for _, d := range out.Drafts {
		records = append(records, d.record())
	}
	return records, nil
}

// ExamSession is the server's view of a running exam attempt.
type ExamSession struct {
	SessionID        string
	Deadline         time.Time
	RemainingSeconds int
}

type examEnvelope struct {
	SessionID     string `json:"session_id"`
	RemainingTime struct {
		RemainingSeconds int       `json:"remaining_seconds"`
		Deadline         time.Time `json:"deadline"`
	} `json:"remaining_time"`
}

func (e examEnvelope) session() ExamSession {
	return ExamSession{
		SessionID:        e.SessionID,
		Deadline:         e.RemainingTime.Deadline,
		RemainingSeconds: e.RemainingTime.RemainingSeconds,
	}
}

// StartExam starts (or resumes) the caller's attempt and returns its deadline.
func (c *Client) StartExam(ctx context.Context, examID string) (ExamSession, error) {
	return c.examCall(ctx, "start_exam", examID, func(ctx context.Context) ([]byte, error) {
		return c.transport.Submit(ctx, fmt.Sprintf("/student/exams/%s/start", url.PathEscape(examID)), struct{}{})
	})
}

// ExamState re-reads the server deadline for a running attempt.
func (c *Client) ExamState(ctx context.Context, examID string) (ExamSession, error) {
	return c.examCall(ctx, "exam_state", examID, func(ctx context.Context) ([]byte, error) {
		return c.transport.Load(ctx, fmt.Sprintf("/student/exams/%s/state", url.PathEscape(examID)), nil)
	})
}

func (c *Client) examCall(ctx context.Context, op, examID string, fn func(context.Context) ([]byte, error)) (ExamSession, error) {
	body, err := c.call(ctx, op, examID, c.opts.ExamTimeout, fn)
	if err != nil {
		return ExamSession{}, err
	}
	var out examEnvelope
	if err := json.Unmarshal(body, &out); err != nil {
		return ExamSession{}, &Error{Op: op, Kind: KindNetwork, Err: fmt.Errorf("decode session: %w", err)}
	}
	return out.session(), nil
}

// SubmitExam hands in the answers for examID.
func (c *Client) SubmitExam(ctx context.Context, examID string, answers json.RawMessage) error {
	const op = "submit_exam"
	if len(answers) == 0 {
		answers = json.RawMessage("{}")
	}
	payload := map[string]json.RawMessage{"answers": answers}
	_, err := c.call(ctx, op, examID, c.opts.SubmitTimeout, func(ctx context.Context) ([]byte, error) {
		return c.transport.Submit(ctx, fmt.Sprintf("/student/exams/%s/submit", url.PathEscape(examID)), payload)
	})
	return err
}

// Discarded returns how many responses arrived after their caller had
// already been told the call timed out.
func (c *Client) Discarded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discarded
}

type callResult struct {
	body []byte
	err  error
}

// call runs fn with a deadline owned by the caller. The request itself is not
// cancelled by the timeout; its goroutine finishes on its own and the result
// is dropped if the caller is gone or a newer request for the same key has
// started.
func (c *Client) call(ctx context.Context, op, target string, timeout time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	key := op + ":" + target

	c.mu.Lock()
	c.seq++
	token := c.seq
	c.inflight[key] = token
	c.mu.Unlock()

	var (
		abandonMu sync.Mutex
		abandoned bool
	)
	done := make(chan callResult, 1)

	go func() {
		body, err := fn(context.WithoutCancel(ctx))

		c.mu.Lock()
		stale := c.inflight[key] != token
		if !stale {
			delete(c.inflight, key)
		}
		c.mu.Unlock()

		abandonMu.Lock()
		defer abandonMu.Unlock()
		if abandoned {
			c.mu.Lock()
			c.discarded++
			c.mu.Unlock()
			c.log.Debug().
				Str("op", op).
				Str("target", target).
				Bool("superseded", stale).
				Bool("failed", err != nil).
				Msg("Discarding late response")
			return
		}
		done <- callResult{body: body, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// abandon marks the call as given up unless the result is already in.
	abandon := func() (callResult, bool) {
		abandonMu.Lock()
		defer abandonMu.Unlock()
		select {
		case r := <-done:
			return r, true
		default:
			abandoned = true
			return callResult{}, false
		}
	}

	select {
	case r := <-done:
		return r.unwrap(op)
	case <-timer.C:
		if r, ok := abandon(); ok {
			return r.unwrap(op)
		}
		return nil, &Error{Op: op, Kind: KindTimeout, Err: fmt.Errorf("no response within %s", timeout)}
	case <-ctx.Done():
		if r, ok := abandon(); ok {
			return r.unwrap(op)
		}
		return nil, &Error{Op: op, Kind: KindNetwork, Err: ctx.Err()}
	}
}

func (r callResult) unwrap(op string) ([]byte, error) {
	if r.err != nil {
		return nil, classify(op, r.err)
	}
	return r.body, nil
}
