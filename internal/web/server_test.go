package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/christian-lee/tutorvoice/internal/credential"
	"github.com/christian-lee/tutorvoice/internal/store"
	"github.com/christian-lee/tutorvoice/internal/transcript"
	"github.com/christian-lee/tutorvoice/internal/tutor"
)

type fakeTutor struct {
	mu          sync.Mutex
	connectErr  error
	connects    int
	disconnects int
	muted       bool
	state       tutor.State
}

func (f *fakeTutor) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = tutor.StateConnected
	return nil
}

func (f *fakeTutor) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = tutor.StateIdle
}

func (f *fakeTutor) SetMuted(m bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = m
}

func (f *fakeTutor) Status() tutor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.state
	if st == "" {
		st = tutor.StateIdle
	}
	return tutor.Status{State: st, Mode: tutor.ModeIdle, ModeLabel: "Idle", Muted: f.muted}
}

func (f *fakeTutor) Transcript() []transcript.Message {
	return []transcript.Message{{ID: "m1", Role: transcript.RoleUser, Text: "hello", Final: true}}
}

func newTestServer(t *testing.T, extra ...credential.Layer) (*Server, *fakeTutor, *store.Store) {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ft := &fakeTutor{}
	creds := credential.NewResolver(append([]credential.Layer{credential.Persisted(st, store.SettingAPIKey)}, extra...)...)
	return NewServer(ft, st, creds, NewHub(), t.TempDir()), ft, st
}

func do(h http.Handler, method, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStateWithoutPassword(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	rec := do(h, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		State      tutor.State          `json:"state"`
		Transcript []transcript.Message `json:"transcript"`
		HasKey     bool                 `json:"has_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, tutor.StateIdle, got.State)
	require.Len(t, got.Transcript, 1)
	require.False(t, got.HasKey)

	require.Equal(t, http.StatusFound, do(h, http.MethodGet, "/login", nil).Code)
	require.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/nope", nil).Code)
}

func TestConnectAndDisconnect(t *testing.T) {
	s, ft, _ := newTestServer(t)
	h := s.Handler()

	require.Equal(t, 405, do(h, http.MethodGet, "/api/connect", nil).Code)

	rec := do(h, http.MethodPost, "/api/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"connected"`)

	rec = do(h, http.MethodPost, "/api/disconnect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, ft.connects)
	require.Equal(t, 1, ft.disconnects)
}

func TestConnectErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: set an API key", tutor.ErrMissingCredential), http.StatusPreconditionFailed},
		{tutor.ErrBusy, http.StatusConflict},
		{fmt.Errorf("%w: mic", tutor.ErrDeviceUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: websocket: bad handshake (HTTP 403 API key not valid AIzaSy)", tutor.ErrTransport), http.StatusBadGateway},
	}
	for _, tt := range tests {
		s, ft, _ := newTestServer(t)
		ft.connectErr = tt.err
		rec := do(s.Handler(), http.MethodPost, "/api/connect", nil)
		require.Equal(t, tt.want, rec.Code, tt.err.Error())

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tutor.UserMessage(tt.err), body["error"])
		require.NotContains(t, body["error"], "handshake")
		require.NotContains(t, body["error"], "AIza")
	}
}

func TestStateReportsKeyFromAnyLayer(t *testing.T) {
	s, _, _ := newTestServer(t, credential.Static("config", "AIzaFromEnv"))

	rec := do(s.Handler(), http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"has_key":true`)
	require.Contains(t, rec.Body.String(), `"key_source":"config"`)
	require.NotContains(t, rec.Body.String(), "AIzaFromEnv")
}

func TestMute(t *testing.T) {
	s, ft, _ := newTestServer(t)
	h := s.Handler()

	rec := do(h, http.MethodPost, "/api/mute", url.Values{"muted": {"true"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ft.muted)
	require.Contains(t, rec.Body.String(), `"muted":true`)

	require.Equal(t, 400, do(h, http.MethodPost, "/api/mute", url.Values{"muted": {"maybe"}}).Code)
}

func TestCredentialIsStoredMasked(t *testing.T) {
	s, _, st := newTestServer(t)
	h := s.Handler()

	rec := do(h, http.MethodPost, "/api/credential", url.Values{"api_key": {" AIzaSecret1234 "}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "Secret")
	require.Contains(t, rec.Body.String(), "1234")

	key, err := st.Setting(store.SettingAPIKey)
	require.NoError(t, err)
	require.Equal(t, "AIzaSecret1234", key)

	rec = do(h, http.MethodGet, "/api/state", nil)
	require.Contains(t, rec.Body.String(), `"has_key":true`)

	rec = do(h, http.MethodPost, "/api/credential", url.Values{"api_key": {""}})
	require.Equal(t, http.StatusOK, rec.Code)
	key, err = st.Setting(store.SettingAPIKey)
	require.NoError(t, err)
	require.Empty(t, key)
}

func TestLoginFlow(t *testing.T) {
	s, _, st := newTestServer(t)
	require.NoError(t, st.SetPanelPassword("s3cret"))
	h := s.Handler()

	require.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/state", nil).Code)
	rec := do(h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/login", nil).Code)

	require.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/api/login", url.Values{"password": {"wrong"}}).Code)

	rec = do(h, http.MethodPost, "/api/login", url.Values{"password": {"s3cret"}})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, cookieName, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/state", nil, cookies[0]).Code)

	require.Equal(t, http.StatusFound, do(h, http.MethodGet, "/api/logout", nil, cookies[0]).Code)
	require.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/state", nil, cookies[0]).Code)
}

func TestHistory(t *testing.T) {
	s, _, st := newTestServer(t)
	h := s.Handler()

	rec := do(h, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.StartConversation("c1", "m", at))
	require.NoError(t, st.AddMessage("c1", transcript.Message{ID: "a", Role: transcript.RoleUser, Text: "Hi", Timestamp: at, Final: true}))
	require.NoError(t, st.AddMessage("c1", transcript.Message{ID: "b", Role: transcript.RoleModel, Text: "Hello!", Timestamp: at.Add(time.Second), Final: true}))

	rec = do(h, http.MethodGet, "/api/history", nil)
	var convs []store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)
	require.Equal(t, 2, convs[0].Messages)

	require.Equal(t, 400, do(h, http.MethodGet, "/api/history/messages", nil).Code)
	rec = do(h, http.MethodGet, "/api/history/messages?id=c1", nil)
	var msgs []transcript.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	require.Equal(t, "Hello!", msgs[1].Text)
}

func TestTranscriptsEmptyDir(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(s.Handler(), http.MethodGet, "/api/transcripts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestEventsStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _, st := newTestServer(t)
	defer st.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() event {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev event
		require.NoError(t, ws.ReadJSON(&ev))
		return ev
	}

	first := read()
	require.Equal(t, "status", first.Type)
	require.Equal(t, tutor.StateIdle, first.Status.State)
	require.Len(t, first.Messages, 1)

	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	s.hub.ModeChanged(tutor.ModeCorrection)
	ev := read()
	require.Equal(t, "mode", ev.Type)
	require.Equal(t, tutor.ModeCorrection, ev.Mode)
	require.Equal(t, "Correction Mode", ev.Label)

	s.hub.SpeakingChanged(true)
	ev = read()
	require.Equal(t, "speaking", ev.Type)
	require.True(t, *ev.Speaking)

	s.hub.Error("The connection to your tutor was lost.")
	require.Equal(t, "The connection to your tutor was lost.", read().Message)

	ws.Close()
	require.Eventually(t, func() bool { return s.hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubDropsForSlowClient(t *testing.T) {
	t.Parallel()

	h := NewHub()
	c := h.subscribe()
	for i := 0; i < 200; i++ {
		h.VolumeChanged(0.5)
	}
	require.Len(t, c.send, cap(c.send))
	h.unsubscribe(c)
	require.Zero(t, h.Clients())
}
