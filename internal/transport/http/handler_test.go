package http

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestCreateSessionRequiresExamID(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/live/sessions", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateSessionUnknownExam(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/live/sessions", map[string]string{"exam_id": "nope"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateSessionResponseShape(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/live/sessions", map[string]string{"exam_id": "exam-1"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Pin) != 6 {
		t.Fatalf("expected 6-digit pin, got %q", out.Pin)
	}
	if out.State != "lobby" {
		t.Fatalf("expected lobby state, got %q", out.State)
	}
	if out.HostToken == "" {
		t.Fatalf("expected host token in response")
	}
	if out.JoinURL == "" || out.QRURL == "" {
		t.Fatalf("expected join and qr urls, got %+v", out)
	}
}

func TestHostEndpointsRejectMissingToken(t *testing.T) {
	env := newTestEnv(t)
	pin := env.createSession(t)

	// Raw request with no cookies and no bearer token.
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/live/host/"+pin+"/start", nil)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without host token, got %d", resp.StatusCode)
	}
}

func TestHostEndpointRejectsTokenForOtherPin(t *testing.T) {
	env := newTestEnv(t)
	first := env.createSessionToken(t)
	second := env.createSessionToken(t)

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/live/host/"+first.pin+"/start", nil)
	req.Header.Set("Authorization", "Bearer "+second.hostToken)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mismatched pin, got %d", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodPost, env.server.URL+"/live/host/"+first.pin+"/start", nil)
	req2.Header.Set("Authorization", "Bearer "+first.hostToken)
	resp2, err := env.server.Client().Do(req2)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected matching token to pass, got %d", resp2.StatusCode)
	}
}

func TestJoinLockedSession(t *testing.T) {
	env := newTestEnv(t)
	pin := env.createSession(t)

	resp := env.post(t, "/live/host/"+pin+"/lock", map[string]bool{"locked": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lock: status %d", resp.StatusCode)
	}

	joinResp := env.post(t, "/live/join/"+pin, map[string]string{"nickname": "Late"})
	defer joinResp.Body.Close()
	if joinResp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on locked session, got %d", joinResp.StatusCode)
	}
}

func TestJoinSetsCookiesAndRedirect(t *testing.T) {
	env := newTestEnv(t)
	pin := env.createSession(t)

	resp := env.post(t, "/live/join/"+pin, map[string]string{"nickname": "  Alice   B  ", "avatar_key": "avatar_3"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: status %d", resp.StatusCode)
	}

	var out joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Nickname != "Alice B" {
		t.Fatalf("expected normalized nickname, got %q", out.Nickname)
	}
	if out.AvatarKey != "avatar_3" {
		t.Fatalf("expected avatar_3, got %q", out.AvatarKey)
	}
	if out.Redirect != "/live/wait/"+pin+"/" {
		t.Fatalf("expected lobby redirect, got %q", out.Redirect)
	}

	names := map[string]bool{}
	for _, c := range resp.Cookies() {
		names[c.Name] = true
	}
	if !names[deviceCookieName] || !names[playerCookieName] {
		t.Fatalf("expected device and player cookies, got %v", names)
	}
}

func TestJoinAfterStartRedirectsToPlay(t *testing.T) {
	env := newTestEnv(t)
	pin := env.createSession(t)
	env.join(t, pin, "Alice")

	resp := env.post(t, "/live/host/"+pin+"/start", map[string]string{})
	resp.Body.Close()

	joinResp := env.post(t, "/live/join/"+pin, map[string]string{"nickname": "Bob"})
	defer joinResp.Body.Close()
	var out joinResponse
	if err := json.NewDecoder(joinResp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Redirect != "/live/play/"+pin+"/" {
		t.Fatalf("expected play redirect, got %q", out.Redirect)
	}
}

func TestStateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	pin := env.createSession(t)
	env.join(t, pin, "Alice")

	resp, err := env.server.Client().Get(env.server.URL + "/live/state/" + pin)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	var lobby map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&lobby); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if lobby["state"] != "lobby" {
		t.Fatalf("expected lobby, got %v", lobby["state"])
	}
	if lobby["question"] != nil {
		t.Fatalf("expected no question in lobby, got %v", lobby["question"])
	}

	startResp := env.post(t, "/live/host/"+pin+"/start", map[string]string{})
	startResp.Body.Close()

	resp2, err := env.server.Client().Get(env.server.URL + "/live/state/" + pin)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp2.Body.Close()
	var active map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&active); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if active["state"] != "question" {
		t.Fatalf("expected question state, got %v", active["state"])
	}
	question, ok := active["question"].(map[string]any)
	if !ok {
		t.Fatalf("expected question payload, got %v", active["question"])
	}
	if question["ends_at"] == nil {
		t.Fatalf("expected ends_at in question payload")
	}
	if active["correct_option_ids"] != nil {
		t.Fatalf("correct options must stay hidden during a question")
	}
}

func TestStateUnknownPin(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.server.Client().Get(env.server.URL + "/live/state/999999")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestQREndpointServesPNG(t *testing.T) {
	env := newTestEnv(t)
	pin := env.createSession(t)

	resp, err := env.server.Client().Get(env.server.URL + "/live/qr/" + pin)
	if err != nil {
		t.Fatalf("get qr: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
}

func TestRevealBeforeQuestionConflicts(t *testing.T) {
	env := newTestEnv(t)
	pin := env.createSession(t)

	resp := env.post(t, "/live/host/"+pin+"/reveal", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 revealing from lobby, got %d", resp.StatusCode)
	}
}
