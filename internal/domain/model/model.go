// Package model contains the typed wire values exchanged with the upstream
// service and the validators that produce them at the boundary.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SessionStatus is the lifecycle status of a candidate session.
type SessionStatus string

// Known session statuses.
const (
	StatusNotStarted SessionStatus = "not_started"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusExpired    SessionStatus = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Task kinds. The set is open; unknown kinds are carried through untouched.
const (
	TaskDesign        = "design"
	TaskCode          = "code"
	TaskDebug         = "debug"
	TaskHandoff       = "handoff"
	TaskDocumentation = "documentation"
)

// IsCodeTask reports whether a task kind is answered with a code blob.
func IsCodeTask(kind string) bool {
	switch strings.ToLower(kind) {
	case TaskCode, TaskDebug:
		return true
	}
	return false
}

// IsTextTask reports whether a task kind is answered with free text.
func IsTextTask(kind string) bool {
	switch strings.ToLower(kind) {
	case TaskDesign, TaskHandoff, TaskDocumentation:
		return true
	}
	return false
}

// Simulation is the summary shown on invite screens.
type Simulation struct {
	Title string `json:"title"`
	Role  string `json:"role"`
}

// Bootstrap is the resolved invite.
type Bootstrap struct {
	CandidateSessionID int64         `json:"candidateSessionId"`
	Status             SessionStatus `json:"status"`
	Simulation         Simulation    `json:"simulation"`
}

// VerifyResponse is returned when the backend accepts a candidate email.
type VerifyResponse = Bootstrap

// Task describes one simulation day. It is replaced wholesale, never mutated.
type Task struct {
	ID          int64  `json:"id"`
	DayIndex    int    `json:"dayIndex"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CurrentTaskResponse is the current task plus completed progress.
type CurrentTaskResponse struct {
	IsComplete       bool    `json:"isComplete"`
	CompletedTaskIDs []int64 `json:"completedTaskIds"`
	CurrentTask      *Task   `json:"currentTask"`
}

// Progress is the completion counter returned on submit.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// SubmissionResult is returned by the backend on a successful submit.
type SubmissionResult struct {
	SubmissionID       int64    `json:"submissionId"`
	TaskID             int64    `json:"taskId"`
	CandidateSessionID int64    `json:"candidateSessionId"`
	SubmittedAt        string   `json:"submittedAt"`
	Progress           Progress `json:"progress"`
	IsComplete         bool     `json:"isComplete"`
}

// SubmitPayload is the submit request body. Exactly one field is set.
type SubmitPayload struct {
	ContentText *string `json:"contentText,omitempty"`
	CodeBlob    *string `json:"codeBlob,omitempty"`
}

// RecruiterProfile is the signed-in recruiter.
type RecruiterProfile struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SimulationListItem is one row of the recruiter dashboard.
type SimulationListItem struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Role           string `json:"role"`
	CreatedAt      string `json:"createdAt"`
	CandidateCount *int   `json:"candidateCount,omitempty"`
}

// InviteRequest invites one candidate to a simulation.
type InviteRequest struct {
	CandidateName string `json:"candidateName"`
	InviteEmail   string `json:"inviteEmail"`
}

// InviteResponse carries the freshly created invite.
type InviteResponse struct {
	CandidateSessionID int64  `json:"candidateSessionId"`
	Token              string `json:"token"`
	InviteURL          string `json:"inviteUrl"`
}

// CandidateListItem is one invited candidate of a simulation.
type CandidateListItem struct {
	CandidateSessionID int64  `json:"candidateSessionId"`
	InviteEmail        string `json:"inviteEmail"`
	CandidateName      string `json:"candidateName"`
	Status             string `json:"status"`
	StartedAt          string `json:"startedAt,omitempty"`
	CompletedAt        string `json:"completedAt,omitempty"`
}

// Result is the outcome of validating an untyped payload. Value is only
// meaningful when Valid is true.
type Result[T any] struct {
	Value    T
	Valid    bool
	Problems []string
}

// Err returns a single error describing the problems, or nil when valid.
func (r Result[T]) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(r.Problems, "; "))
}

type checker struct{ problems []string }

func (c *checker) fail(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

func finish[T any](v T, c *checker) Result[T] {
	if len(c.problems) > 0 {
		return Result[T]{Problems: c.problems}
	}
	return Result[T]{Value: v, Valid: true}
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// intField accepts JSON numbers and numeric strings.
func intField(c *checker, m map[string]json.RawMessage, name string, required bool) int64 {
	raw, ok := m[name]
	if !ok || isNull(raw) {
		if required {
			c.fail("%s is required", name)
		}
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return v
		}
	}
	c.fail("%s must be an integer", name)
	return 0
}

func stringField(c *checker, m map[string]json.RawMessage, name string, required bool) string {
	raw, ok := m[name]
	if !ok || isNull(raw) {
		if required {
			c.fail("%s is required", name)
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		c.fail("%s must be a string", name)
	}
	return s
}

// idField accepts either a string or a number and returns its text form.
func idField(c *checker, m map[string]json.RawMessage, name string) string {
	raw, ok := m[name]
	if !ok || isNull(raw) {
		c.fail("%s is required", name)
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	c.fail("%s must be a string or number", name)
	return ""
}

func boolField(c *checker, m map[string]json.RawMessage, name string) bool {
	raw, ok := m[name]
	if !ok || isNull(raw) {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		c.fail("%s must be a boolean", name)
	}
	return b
}

func idList(c *checker, raw json.RawMessage, name string) []int64 {
	if isNull(raw) {
		return nil
	}
	var nums []json.Number
	if err := json.Unmarshal(raw, &nums); err != nil {
		c.fail("%s must be a list of integers", name)
		return nil
	}
	out := make([]int64, 0, len(nums))
	for _, n := range nums {
		v, err := n.Int64()
		if err != nil {
			c.fail("%s must be a list of integers", name)
			return nil
		}
		out = append(out, v)
	}
	return out
}

func simulationField(c *checker, m map[string]json.RawMessage, required bool) Simulation {
	raw, ok := m["simulation"]
	if !ok || isNull(raw) {
		if required {
			c.fail("simulation is required")
		}
		return Simulation{}
	}
	sm, err := decodeObject(raw)
	if err != nil {
		c.fail("simulation must be an object")
		return Simulation{}
	}
	return Simulation{
		Title: stringField(c, sm, "title", false),
		Role:  stringField(c, sm, "role", false),
	}
}

// ParseBootstrap validates an invite bootstrap payload.
func ParseBootstrap(raw []byte) Result[Bootstrap] {
	c := &checker{}
	m, err := decodeObject(raw)
	if err != nil {
		c.fail("bootstrap: %v", err)
		return finish(Bootstrap{}, c)
	}
	b := Bootstrap{
		CandidateSessionID: intField(c, m, "candidateSessionId", true),
		Status:             SessionStatus(stringField(c, m, "status", true)),
		Simulation:         simulationField(c, m, true),
	}
	if b.Status != "" && !b.Status.Valid() {
		c.fail("status %q is not recognised", b.Status)
	}
	return finish(b, c)
}

// ParseVerifyResponse validates a verify payload. The session id may arrive as
// candidateSessionId or candidate_session_id; a missing status means in_progress.
func ParseVerifyResponse(raw []byte) Result[VerifyResponse] {
	c := &checker{}
	m, err := decodeObject(raw)
	if err != nil {
		c.fail("verify: %v", err)
		return finish(VerifyResponse{}, c)
	}
	key := "candidateSessionId"
	if _, ok := m[key]; !ok {
		key = "candidate_session_id"
	}
	v := VerifyResponse{
		CandidateSessionID: intField(c, m, key, true),
		Status:             SessionStatus(stringField(c, m, "status", false)),
		Simulation:         simulationField(c, m, false),
	}
	if v.Status == "" {
		v.Status = StatusInProgress
	}
	return finish(v, c)
}

func parseTask(c *checker, raw json.RawMessage) *Task {
	if isNull(raw) {
		return nil
	}
	m, err := decodeObject(raw)
	if err != nil {
		c.fail("currentTask must be an object or null")
		return nil
	}
	return &Task{
		ID:          intField(c, m, "id", true),
		DayIndex:    int(intField(c, m, "dayIndex", true)),
		Type:        stringField(c, m, "type", true),
		Title:       stringField(c, m, "title", false),
		Description: stringField(c, m, "description", false),
	}
}

// ParseCurrentTask validates a current task payload. Completed ids are read
// from completedTaskIds, falling back to progress.completedTaskIds.
func ParseCurrentTask(raw []byte) Result[CurrentTaskResponse] {
	c := &checker{}
	m, err := decodeObject(raw)
	if err != nil {
		c.fail("current task: %v", err)
		return finish(CurrentTaskResponse{}, c)
	}
	r := CurrentTaskResponse{
		IsComplete:  boolField(c, m, "isComplete"),
		CurrentTask: parseTask(c, m["currentTask"]),
	}
	if ids, ok := m["completedTaskIds"]; ok && !isNull(ids) {
		r.CompletedTaskIDs = idList(c, ids, "completedTaskIds")
	} else if p, ok := m["progress"]; ok && !isNull(p) {
		if pm, err := decodeObject(p); err == nil {
			r.CompletedTaskIDs = idList(c, pm["completedTaskIds"], "progress.completedTaskIds")
		}
	}
	if r.CompletedTaskIDs == nil {
		r.CompletedTaskIDs = []int64{}
	}
	if r.IsComplete {
		r.CurrentTask = nil
	}
	return finish(r, c)
}

// ParseSubmissionResult validates a submit response.
func ParseSubmissionResult(raw []byte) Result[SubmissionResult] {
	c := &checker{}
	m, err := decodeObject(raw)
	if err != nil {
		c.fail("submission: %v", err)
		return finish(SubmissionResult{}, c)
	}
	s := SubmissionResult{
		SubmissionID:       intField(c, m, "submissionId", true),
		TaskID:             intField(c, m, "taskId", true),
		CandidateSessionID: intField(c, m, "candidateSessionId", true),
		SubmittedAt:        stringField(c, m, "submittedAt", true),
		IsComplete:         boolField(c, m, "isComplete"),
	}
	pm, err := decodeObject(m["progress"])
	if err != nil {
		c.fail("progress must be an object")
	} else {
		s.Progress = Progress{
			Completed: int(intField(c, pm, "completed", true)),
			Total:     int(intField(c, pm, "total", true)),
		}
	}
	return finish(s, c)
}

// ParseRecruiterProfile validates the /auth/me payload.
func ParseRecruiterProfile(raw []byte) Result[RecruiterProfile] {
	c := &checker{}
	m, err := decodeObject(raw)
	if err != nil {
		c.fail("profile: %v", err)
		return finish(RecruiterProfile{}, c)
	}
	return finish(RecruiterProfile{
		ID:    intField(c, m, "id", false),
		Name:  stringField(c, m, "name", false),
		Email: stringField(c, m, "email", false),
		Role:  stringField(c, m, "role", false),
	}, c)
}

func parseArray(raw []byte) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("expected a JSON array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ParseSimulationList validates the simulations list.
func ParseSimulationList(raw []byte) Result[[]SimulationListItem] {
	c := &checker{}
	items, err := parseArray(raw)
	if err != nil {
		c.fail("simulations: %v", err)
		return finish[[]SimulationListItem](nil, c)
	}
	out := make([]SimulationListItem, 0, len(items))
	for i, item := range items {
		m, err := decodeObject(item)
		if err != nil {
			c.fail("simulations[%d] must be an object", i)
			continue
		}
		s := SimulationListItem{
			ID:        idField(c, m, "id"),
			Title:     stringField(c, m, "title", false),
			Role:      stringField(c, m, "role", false),
			CreatedAt: stringField(c, m, "createdAt", false),
		}
		if _, ok := m["candidateCount"]; ok && !isNull(m["candidateCount"]) {
			n := int(intField(c, m, "candidateCount", false))
			s.CandidateCount = &n
		}
		out = append(out, s)
	}
	return finish(out, c)
}

// ParseCandidateList validates the invited candidates list.
func ParseCandidateList(raw []byte) Result[[]CandidateListItem] {
	c := &checker{}
	items, err := parseArray(raw)
	if err != nil {
		c.fail("candidates: %v", err)
		return finish[[]CandidateListItem](nil, c)
	}
	out := make([]CandidateListItem, 0, len(items))
	for i, item := range items {
		m, err := decodeObject(item)
		if err != nil {
			c.fail("candidates[%d] must be an object", i)
			continue
		}
		out = append(out, CandidateListItem{
			CandidateSessionID: intField(c, m, "candidateSessionId", true),
			InviteEmail:        stringField(c, m, "inviteEmail", false),
			CandidateName:      stringField(c, m, "candidateName", false),
			Status:             stringField(c, m, "status", false),
			StartedAt:          stringField(c, m, "startedAt", false),
			CompletedAt:        stringField(c, m, "completedAt", false),
		})
	}
	return finish(out, c)
}

// ParseInviteResponse validates an invite response.
func ParseInviteResponse(raw []byte) Result[InviteResponse] {
	c := &checker{}
	m, err := decodeObject(raw)
	if err != nil {
		c.fail("invite: %v", err)
		return finish(InviteResponse{}, c)
	}
	return finish(InviteResponse{
		CandidateSessionID: intField(c, m, "candidateSessionId", false),
		Token:              stringField(c, m, "token", false),
		InviteURL:          stringField(c, m, "inviteUrl", true),
	}, c)
}
