package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/auth"
	"github.com/codecollab/hub/internal/session"
)

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// fakeSessionRepository is an in-memory session.Repository for handler tests.
type fakeSessionRepository struct {
	mu           sync.Mutex
	sessions     map[string]session.Session
	participants map[string]map[string]session.Participant
}

func newFakeSessionRepository() *fakeSessionRepository {
	return &fakeSessionRepository{
		sessions:     make(map[string]session.Session),
		participants: make(map[string]map[string]session.Participant),
	}
}

func (f *fakeSessionRepository) InsertSession(ctx context.Context, s session.Session, owner session.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.SessionID] = s
	if f.participants[s.SessionID] == nil {
		f.participants[s.SessionID] = make(map[string]session.Participant)
	}
	f.participants[s.SessionID][owner.UserID] = owner
	return nil
}

func (f *fakeSessionRepository) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessionRepository) UpdateSession(ctx context.Context, sessionID string, patch session.UpdatePatch) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	if patch.Name != nil {
		s.Name = *patch.Name
	}
	if patch.Description != nil {
		s.Description = *patch.Description
	}
	if patch.Settings != nil {
		s.Settings = *patch.Settings
	}
	f.sessions[sessionID] = s
	return s, nil
}

func (f *fakeSessionRepository) SoftDeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return session.ErrNotFound
	}
	s.Status = "deleted"
	f.sessions[sessionID] = s
	return nil
}

func (f *fakeSessionRepository) ListSessionsForUser(ctx context.Context, userID string, filter session.ListFilter) ([]session.SessionView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var views []session.SessionView
	for sessionID, byUser := range f.participants {
		p, ok := byUser[userID]
		if !ok || p.Status != session.StatusActive {
			continue
		}
		views = append(views, session.SessionView{Session: f.sessions[sessionID], Role: p.Role})
	}
	return views, nil
}

func (f *fakeSessionRepository) GetParticipant(ctx context.Context, sessionID, userID string) (session.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[sessionID][userID]
	if !ok {
		return session.Participant{}, session.ErrTargetNotParticipant
	}
	return p, nil
}

func (f *fakeSessionRepository) ListParticipants(ctx context.Context, sessionID string) ([]session.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Participant
	for _, p := range f.participants[sessionID] {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeSessionRepository) CountActiveParticipants(ctx context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.participants[sessionID] {
		if p.Status == session.StatusActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepository) UpsertParticipant(ctx context.Context, p session.Participant) (session.Participant, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.participants[p.SessionID] == nil {
		f.participants[p.SessionID] = make(map[string]session.Participant)
	}
	_, existed := f.participants[p.SessionID][p.UserID]
	f.participants[p.SessionID][p.UserID] = p
	return p, !existed, nil
}

func (f *fakeSessionRepository) UpdateParticipant(ctx context.Context, sessionID, userID string, mutate func(*session.Participant)) (session.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[sessionID][userID]
	if !ok {
		return session.Participant{}, session.ErrTargetNotParticipant
	}
	mutate(&p)
	f.participants[sessionID][userID] = p
	return p, nil
}

type fakeUserLookup struct {
	byEmail map[string]string
}

func (f *fakeUserLookup) LookupByEmail(ctx context.Context, email string) (string, bool, error) {
	id, ok := f.byEmail[email]
	return id, ok, nil
}

func testSessionApp(t *testing.T, repo *fakeSessionRepository, users *fakeUserLookup, caller auth.Principal) *fiber.App {
	t.Helper()
	svc := session.New(repo, users, nil, zerolog.Nop())
	handler := NewSessionHandler(svc, zerolog.Nop())
	app := fiber.New()
	app.Use(fakeAuth(caller))

	app.Post("/sessions", handler.Create)
	app.Get("/sessions", handler.List)
	app.Get("/sessions/:sessionId", handler.Get)
	app.Patch("/sessions/:sessionId", handler.Update)
	app.Delete("/sessions/:sessionId", handler.Delete)
	app.Get("/sessions/:sessionId/participants", handler.Participants)
	app.Post("/sessions/:sessionId/participants", handler.Invite)
	app.Put("/sessions/:sessionId/join", handler.Join)
	app.Delete("/sessions/:sessionId/leave", handler.Leave)
	app.Put("/sessions/:sessionId/transfer-ownership", handler.TransferOwnership)
	app.Patch("/sessions/:sessionId/participants/:userId", handler.UpdateParticipantRole)
	app.Delete("/sessions/:sessionId/participants/:userId", handler.RemoveParticipant)

	return app
}

func TestCreateSession_Success(t *testing.T) {
	t.Parallel()
	owner := auth.Principal{UserID: "user-owner", Email: "owner@example.com"}
	app := testSessionApp(t, newFakeSessionRepository(), &fakeUserLookup{byEmail: map[string]string{}}, owner)

	resp := doReq(t, app, jsonReq(http.MethodPost, "/sessions", `{"name":"Algorithms Study","description":"weekly sync"}`))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusCreated, body)
	}
	env := parseSuccess(t, body)
	var got session.Session
	if err := jsonUnmarshal(env.Data, &got); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if got.Name != "Algorithms Study" || got.CreatorUserID != owner.UserID {
		t.Errorf("session = %+v, want name/creator matching request", got)
	}
}

func TestCreateSession_ValidationError(t *testing.T) {
	t.Parallel()
	owner := auth.Principal{UserID: "user-owner", Email: "owner@example.com"}
	app := testSessionApp(t, newFakeSessionRepository(), &fakeUserLookup{byEmail: map[string]string{}}, owner)

	resp := doReq(t, app, jsonReq(http.MethodPost, "/sessions", `{"name":""}`))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusBadRequest, body)
	}
	env := parseError(t, body)
	if env.Error.Code != "ValidationError" {
		t.Errorf("error code = %q, want ValidationError", env.Error.Code)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	t.Parallel()
	app := testSessionApp(t, newFakeSessionRepository(), &fakeUserLookup{byEmail: map[string]string{}}, auth.Principal{UserID: "user-1"})

	resp := doReq(t, app, jsonReq(http.MethodGet, "/sessions/missing", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusNotFound, body)
	}
	env := parseError(t, body)
	if env.Error.Code != "NotFound" {
		t.Errorf("error code = %q, want NotFound", env.Error.Code)
	}
}

func TestGetSession_ForbiddenForNonParticipant(t *testing.T) {
	t.Parallel()
	owner := auth.Principal{UserID: "user-owner", Email: "owner@example.com"}
	repo := newFakeSessionRepository()
	users := &fakeUserLookup{byEmail: map[string]string{}}
	createApp := testSessionApp(t, repo, users, owner)
	created := doReq(t, createApp, jsonReq(http.MethodPost, "/sessions", `{"name":"Private"}`))
	env := parseSuccess(t, readBody(t, created))
	var sess session.Session
	_ = jsonUnmarshal(env.Data, &sess)

	outsider := auth.Principal{UserID: "user-outsider", Email: "outsider@example.com"}
	app := testSessionApp(t, repo, users, outsider)

	resp := doReq(t, app, jsonReq(http.MethodGet, "/sessions/"+sess.SessionID, ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusForbidden, body)
	}
	env2 := parseError(t, body)
	if env2.Error.Code != "Forbidden" {
		t.Errorf("error code = %q, want Forbidden", env2.Error.Code)
	}
}

func TestInviteParticipant_UnknownEmailIsValidationError(t *testing.T) {
	t.Parallel()
	owner := auth.Principal{UserID: "user-owner", Email: "owner@example.com"}
	repo := newFakeSessionRepository()
	users := &fakeUserLookup{byEmail: map[string]string{}}
	createApp := testSessionApp(t, repo, users, owner)
	created := doReq(t, createApp, jsonReq(http.MethodPost, "/sessions", `{"name":"Team"}`))
	env := parseSuccess(t, readBody(t, created))
	var sess session.Session
	_ = jsonUnmarshal(env.Data, &sess)

	app := testSessionApp(t, repo, users, owner)
	resp := doReq(t, app, jsonReq(http.MethodPost, "/sessions/"+sess.SessionID+"/participants", `{"email":"nobody@example.com","role":"editor"}`))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusBadRequest, body)
	}
	errEnv := parseError(t, body)
	if errEnv.Error.Code != "ValidationError" {
		t.Errorf("error code = %q, want ValidationError", errEnv.Error.Code)
	}
}

func TestInviteParticipant_Success(t *testing.T) {
	t.Parallel()
	owner := auth.Principal{UserID: "user-owner", Email: "owner@example.com"}
	repo := newFakeSessionRepository()
	users := &fakeUserLookup{byEmail: map[string]string{"bob@example.com": "user-bob"}}
	createApp := testSessionApp(t, repo, users, owner)
	created := doReq(t, createApp, jsonReq(http.MethodPost, "/sessions", `{"name":"Team"}`))
	env := parseSuccess(t, readBody(t, created))
	var sess session.Session
	_ = jsonUnmarshal(env.Data, &sess)

	app := testSessionApp(t, repo, users, owner)
	resp := doReq(t, app, jsonReq(http.MethodPost, "/sessions/"+sess.SessionID+"/participants", `{"email":"bob@example.com","role":"editor"}`))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusCreated, body)
	}
	var participant session.Participant
	if err := jsonUnmarshal(parseSuccess(t, body).Data, &participant); err != nil {
		t.Fatalf("unmarshal participant: %v", err)
	}
	if participant.UserID != "user-bob" || participant.Role != session.RoleEditor {
		t.Errorf("participant = %+v, want userId=user-bob role=editor", participant)
	}
}

func TestListParticipants_Success(t *testing.T) {
	t.Parallel()
	owner := auth.Principal{UserID: "user-owner", Email: "owner@example.com"}
	repo := newFakeSessionRepository()
	users := &fakeUserLookup{byEmail: map[string]string{"bob@example.com": "user-bob"}}
	createApp := testSessionApp(t, repo, users, owner)
	created := doReq(t, createApp, jsonReq(http.MethodPost, "/sessions", `{"name":"Team"}`))
	env := parseSuccess(t, readBody(t, created))
	var sess session.Session
	_ = jsonUnmarshal(env.Data, &sess)

	inviteApp := testSessionApp(t, repo, users, owner)
	_ = readBody(t, doReq(t, inviteApp, jsonReq(http.MethodPost, "/sessions/"+sess.SessionID+"/participants", `{"email":"bob@example.com","role":"editor"}`)))

	resp := doReq(t, inviteApp, jsonReq(http.MethodGet, "/sessions/"+sess.SessionID+"/participants", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusOK, body)
	}
	var participants []session.Participant
	if err := jsonUnmarshal(parseSuccess(t, body).Data, &participants); err != nil {
		t.Fatalf("unmarshal participants: %v", err)
	}
	if len(participants) != 2 {
		t.Errorf("len(participants) = %d, want 2 (owner + invited bob)", len(participants))
	}
}

func TestListParticipants_ForbiddenForNonParticipant(t *testing.T) {
	t.Parallel()
	owner := auth.Principal{UserID: "user-owner", Email: "owner@example.com"}
	repo := newFakeSessionRepository()
	users := &fakeUserLookup{byEmail: map[string]string{}}
	createApp := testSessionApp(t, repo, users, owner)
	created := doReq(t, createApp, jsonReq(http.MethodPost, "/sessions", `{"name":"Private"}`))
	env := parseSuccess(t, readBody(t, created))
	var sess session.Session
	_ = jsonUnmarshal(env.Data, &sess)

	outsider := auth.Principal{UserID: "user-outsider", Email: "outsider@example.com"}
	app := testSessionApp(t, repo, users, outsider)

	resp := doReq(t, app, jsonReq(http.MethodGet, "/sessions/"+sess.SessionID+"/participants", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusForbidden, body)
	}
}

func TestDeleteSession_NoContent(t *testing.T) {
	t.Parallel()
	owner := auth.Principal{UserID: "user-owner", Email: "owner@example.com"}
	repo := newFakeSessionRepository()
	users := &fakeUserLookup{byEmail: map[string]string{}}
	createApp := testSessionApp(t, repo, users, owner)
	created := doReq(t, createApp, jsonReq(http.MethodPost, "/sessions", `{"name":"Team"}`))
	env := parseSuccess(t, readBody(t, created))
	var sess session.Session
	_ = jsonUnmarshal(env.Data, &sess)

	app := testSessionApp(t, repo, users, owner)
	resp := doReq(t, app, jsonReq(http.MethodDelete, "/sessions/"+sess.SessionID, ""))
	_ = readBody(t, resp)

	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusNoContent)
	}
}
