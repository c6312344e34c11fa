package server

import (
	"encoding/json"
	"net/http"
	"testing"
)

func openTestSession(t *testing.T, harness *routerHarness, hostToken string) string {
	t.Helper()
	recorder := harness.do(t, http.MethodPost, "/live", hostToken, `{"tide_name":"evening tide"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, recorder.Code, recorder.Body.String())
	}
	var session sessionPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if session.LiveID == "" || session.State != "not_live" {
		t.Fatalf("unexpected opened session: %+v", session)
	}
	return session.LiveID
}

func TestStartSessionAlertsFollowers(t *testing.T) {
	harness := newRouterHarness(t)
	hostToken := harness.token(t, "host-1", "Host One")
	fanToken := harness.token(t, "fan-live-1", "Live Fan")

	if recorder := harness.do(t, http.MethodPut, "/crew/host-1", fanToken, ""); recorder.Code != http.StatusOK {
		t.Fatalf("follow failed with status %d", recorder.Code)
	}

	liveID := openTestSession(t, harness, hostToken)

	recorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/start", hostToken, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	var started struct {
		Status          string `json:"status"`
		AlertsDelivered int    `json:"alerts_delivered"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &started); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if started.Status != "live" || started.AlertsDelivered != 1 {
		t.Fatalf("unexpected start response: %+v", started)
	}

	inboxRecorder := harness.do(t, http.MethodGet, "/pings", fanToken, "")
	var inbox struct {
		Pings []pingPayload `json:"pings"`
	}
	if err := json.Unmarshal(inboxRecorder.Body.Bytes(), &inbox); err != nil {
		t.Fatalf("failed to decode inbox: %v", err)
	}
	if len(inbox.Pings) != 1 {
		t.Fatalf("expected one drift alert ping, got %d", len(inbox.Pings))
	}
	if inbox.Pings[0].Kind != "friend_went_live" {
		t.Fatalf("expected friend_went_live ping, got %q", inbox.Pings[0].Kind)
	}

	// repeat start is idempotent and must not alert again.
	if repeat := harness.do(t, http.MethodPost, "/live/"+liveID+"/start", hostToken, ""); repeat.Code != http.StatusOK {
		t.Fatalf("repeat start failed with status %d", repeat.Code)
	}
	repeatInbox := harness.do(t, http.MethodGet, "/pings", fanToken, "")
	if err := json.Unmarshal(repeatInbox.Body.Bytes(), &inbox); err != nil {
		t.Fatalf("failed to decode inbox: %v", err)
	}
	if len(inbox.Pings) != 1 {
		t.Fatalf("expected no duplicate alert, got %d pings", len(inbox.Pings))
	}
}

func TestStartSessionRejectsNonHost(t *testing.T) {
	harness := newRouterHarness(t)
	hostToken := harness.token(t, "host-2", "Host Two")
	strangerToken := harness.token(t, "stranger", "Stranger")

	liveID := openTestSession(t, harness, hostToken)

	recorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/start", strangerToken, "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, recorder.Code)
	}
}

func TestPollVoteAndTallyFlow(t *testing.T) {
	harness := newRouterHarness(t)
	hostToken := harness.token(t, "host-3", "Host Three")
	voterToken := harness.token(t, "voter-1", "Voter")

	liveID := openTestSession(t, harness, hostToken)
	if recorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/start", hostToken, ""); recorder.Code != http.StatusOK {
		t.Fatalf("start failed with status %d", recorder.Code)
	}

	pollRecorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/polls", hostToken,
		`{"question":"which tide?","options":[{"id":"a","label":"Morning"},{"id":"b","label":"Evening"}]}`)
	if pollRecorder.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, pollRecorder.Code, pollRecorder.Body.String())
	}
	var pollResponse struct {
		PollID string `json:"poll_id"`
	}
	if err := json.Unmarshal(pollRecorder.Body.Bytes(), &pollResponse); err != nil {
		t.Fatalf("failed to decode poll: %v", err)
	}

	// vote, then switch: only the latest option may count.
	for _, option := range []string{"a", "b"} {
		recorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/polls/"+pollResponse.PollID+"/votes", voterToken,
			`{"option_id":"`+option+`"}`)
		if recorder.Code != http.StatusOK {
			t.Fatalf("vote for %q failed with status %d: %s", option, recorder.Code, recorder.Body.String())
		}
	}

	unknownRecorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/polls/"+pollResponse.PollID+"/votes", voterToken,
		`{"option_id":"z"}`)
	if unknownRecorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for unknown option, got %d", http.StatusBadRequest, unknownRecorder.Code)
	}

	tallyRecorder := harness.do(t, http.MethodGet, "/live/"+liveID+"/polls/"+pollResponse.PollID+"/tally", hostToken, "")
	if tallyRecorder.Code != http.StatusOK {
		t.Fatalf("tally failed with status %d", tallyRecorder.Code)
	}
	var tallyResponse struct {
		Tally map[string]int64 `json:"tally"`
	}
	if err := json.Unmarshal(tallyRecorder.Body.Bytes(), &tallyResponse); err != nil {
		t.Fatalf("failed to decode tally: %v", err)
	}
	if tallyResponse.Tally["a"] != 0 || tallyResponse.Tally["b"] != 1 {
		t.Fatalf("unexpected tally after vote switch: %v", tallyResponse.Tally)
	}
}

func TestGoalAdvanceAndEndSession(t *testing.T) {
	harness := newRouterHarness(t)
	hostToken := harness.token(t, "host-4", "Host Four")

	liveID := openTestSession(t, harness, hostToken)
	if recorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/start", hostToken, ""); recorder.Code != http.StatusOK {
		t.Fatalf("start failed with status %d", recorder.Code)
	}

	goalRecorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/goals", hostToken, `{"target":10,"label":"splash goal"}`)
	if goalRecorder.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, goalRecorder.Code, goalRecorder.Body.String())
	}
	var goalResponse struct {
		GoalID string `json:"goal_id"`
	}
	if err := json.Unmarshal(goalRecorder.Body.Bytes(), &goalResponse); err != nil {
		t.Fatalf("failed to decode goal: %v", err)
	}

	advance := harness.do(t, http.MethodPost, "/live/"+liveID+"/goals/"+goalResponse.GoalID+"/advance", hostToken, `{"delta":3}`)
	if advance.Code != http.StatusOK {
		t.Fatalf("advance failed with status %d: %s", advance.Code, advance.Body.String())
	}
	badAdvance := harness.do(t, http.MethodPost, "/live/"+liveID+"/goals/"+goalResponse.GoalID+"/advance", hostToken, `{"delta":0}`)
	if badAdvance.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for zero delta, got %d", http.StatusBadRequest, badAdvance.Code)
	}

	endRecorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/end", hostToken, "")
	if endRecorder.Code != http.StatusOK {
		t.Fatalf("end failed with status %d", endRecorder.Code)
	}

	// votes after the session ended are rejected.
	voteRecorder := harness.do(t, http.MethodPost, "/live/"+liveID+"/polls/some-poll/votes", hostToken, `{"option_id":"a"}`)
	if voteRecorder.Code != http.StatusConflict {
		t.Fatalf("expected status %d after end, got %d", http.StatusConflict, voteRecorder.Code)
	}

	sessionRecorder := harness.do(t, http.MethodGet, "/live/"+liveID, hostToken, "")
	var session sessionPayload
	if err := json.Unmarshal(sessionRecorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if session.State != "ended" {
		t.Fatalf("expected ended session, got %q", session.State)
	}
}
