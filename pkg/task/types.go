package task

import (
	"encoding/json"
	"fmt"
)

// Attachment is a named file reference supplied with a task request.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Request is the payload submitted to the build endpoint.
type Request struct {
	Email         string            `json:"email"`
	Secret        string            `json:"secret"`
	Task          string            `json:"task"`
	Round         int               `json:"round"`
	Nonce         string            `json:"nonce"`
	Brief         string            `json:"brief"`
	Checks        []json.RawMessage `json:"checks,omitempty"`
	Attachments   []Attachment      `json:"attachments,omitempty"`
	EvaluationURL string            `json:"evaluation_url"`
	WaitForResult bool              `json:"wait_for_result,omitempty"`
}

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing %s", e.Field)
}

// Validate checks that every required field is present. Attachments, checks,
// and wait_for_result are optional; everything else is mandatory.
func (r Request) Validate() error {
	switch {
	case r.Email == "":
		return &ValidationError{Field: "email"}
	case r.Secret == "":
		return &ValidationError{Field: "secret"}
	case r.Task == "":
		return &ValidationError{Field: "task"}
	case r.Round < 1:
		return &ValidationError{Field: "round"}
	case r.Nonce == "":
		return &ValidationError{Field: "nonce"}
	case r.Brief == "":
		return &ValidationError{Field: "brief"}
	case r.EvaluationURL == "":
		return &ValidationError{Field: "evaluation_url"}
	}
	return nil
}

// Key returns the composite cache key for the request.
func (r Request) Key() string {
	return Key(r.Email, r.Task, r.Nonce)
}

// Key joins the identifying fields into the composite cache key.
func Key(email, taskID, nonce string) string {
	return email + ":" + taskID + ":" + nonce
}

// KeyPrefix is the prefix shared by every attempt for the same email/task pair.
func KeyPrefix(email, taskID string) string {
	return email + ":" + taskID + ":"
}

// Record is the internal view of a completed build attempt. It carries the
// requester identity needed for cache keying.
type Record struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
}

// Key returns the composite cache key for the record.
func (r Record) Key() string {
	return Key(r.Email, r.Task, r.Nonce)
}

// Result is the evaluator-facing view of a build outcome. Identity fields are
// deliberately absent. A non-empty Status marks the failed-build entries the
// polling endpoint serves for asynchronous builds.
type Result struct {
	CommitSHA string `json:"commit_sha,omitempty"`
	Message   string `json:"message"`
	PagesURL  string `json:"pages_url,omitempty"`
	RepoURL   string `json:"repo_url,omitempty"`
	Round     int    `json:"round"`
	Task      string `json:"task"`
	Status    string `json:"status,omitempty"`
}

// StatusFailed marks cached entries for builds that ended in error.
const StatusFailed = "failed"
