// Package web serves the tutor control panel: session buttons, live status
// over a websocket, the API key form and past conversations.
package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/christian-lee/tutorvoice/internal/credential"
	"github.com/christian-lee/tutorvoice/internal/store"
	"github.com/christian-lee/tutorvoice/internal/transcript"
	"github.com/christian-lee/tutorvoice/internal/tutor"
)

const (
	cookieName    = "tutor_token"
	sessionMaxAge = 24 * time.Hour
	writeWait     = 5 * time.Second
)

// Tutor is the session surface the panel drives.
type Tutor interface {
	Connect(ctx context.Context) error
	Disconnect()
	SetMuted(muted bool)
	Status() tutor.Status
	Transcript() []transcript.Message
}

// Server serves the control panel. Login is required only while a panel
// password is stored.
type Server struct {
	tutor         Tutor
	store         *store.Store
	creds         tutor.CredentialSource
	hub           *Hub
	transcriptDir string
	upgrader      websocket.Upgrader
	srv           *http.Server
}

// NewServer builds the panel. creds is asked whether any key layer is set.
func NewServer(t Tutor, st *store.Store, creds tutor.CredentialSource, hub *Hub, transcriptDir string) *Server {
	return &Server{
		tutor:         t,
		store:         st,
		creds:         creds,
		hub:           hub,
		transcriptDir: transcriptDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLoginPage)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/", s.requireAuth(s.handleIndex))
	mux.HandleFunc("/api/state", s.requireAuth(s.handleState))
	mux.HandleFunc("/api/connect", s.requireAuth(s.handleConnect))
	mux.HandleFunc("/api/disconnect", s.requireAuth(s.handleDisconnect))
	mux.HandleFunc("/api/mute", s.requireAuth(s.handleMute))
	mux.HandleFunc("/api/credential", s.requireAuth(s.handleCredential))
	mux.HandleFunc("/api/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("/api/history/messages", s.requireAuth(s.handleHistoryMessages))
	mux.HandleFunc("/api/transcripts", s.requireAuth(s.handleTranscripts))
	mux.HandleFunc("/api/events", s.requireAuth(s.handleEvents))
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	if s.store.PanelPasswordEnabled() {
		slog.Info("web auth enabled")
	} else {
		slog.Info("web auth disabled (no panel password set)")
	}
	slog.Info("🌐 tutor panel started", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("web server error", "err", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Server) isValidSession(r *http.Request) bool {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return false
	}
	return s.store.ValidWebSession(cookie.Value)
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.store.PanelPasswordEnabled() || s.isValidSession(r) {
			next(w, r)
			return
		}
		// API calls get 401, page requests redirect to login
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	r.ParseForm()
	if !s.store.CheckPanelPassword(r.FormValue("password")) {
		slog.Warn("panel login failed", "ip", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "wrong password"})
		return
	}

	token := generateToken()
	if err := s.store.SaveWebSession(token, time.Now().Add(sessionMaxAge)); err != nil {
		slog.Error("save web session", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login unavailable"})
		return
	}
	s.store.CleanExpiredWebSessions()

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Info("panel login", "ip", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(cookieName); err == nil {
		if err := s.store.DeleteWebSession(cookie.Value); err != nil {
			slog.Warn("delete web session", "err", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:   cookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}

type stateResponse struct {
	tutor.Status
	Transcript []transcript.Message `json:"transcript"`
	HasKey     bool                 `json:"has_key"`
	KeySource  string               `json:"key_source,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	_, source, err := s.creds.Resolve()
	writeJSON(w, http.StatusOK, stateResponse{
		Status:     s.tutor.Status(),
		Transcript: s.tutor.Transcript(),
		HasKey:     err == nil,
		KeySource:  source,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	if err := s.tutor.Connect(r.Context()); err != nil {
		slog.Warn("connect from panel failed", "err", err)
		writeJSON(w, connectStatus(err), map[string]string{"error": tutor.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, s.tutor.Status())
}

func connectStatus(err error) int {
	switch {
	case errors.Is(err, tutor.ErrMissingCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, tutor.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, tutor.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, tutor.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.tutor.Disconnect()
	writeJSON(w, http.StatusOK, s.tutor.Status())
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	muted, err := strconv.ParseBool(r.FormValue("muted"))
	if err != nil {
		http.Error(w, "invalid muted", 400)
		return
	}
	s.tutor.SetMuted(muted)
	slog.Info("microphone mute changed", "muted", muted)
	writeJSON(w, http.StatusOK, s.tutor.Status())
}

// handleCredential stores or clears the persisted API key. The key is never
// sent back in full.
func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		key, err := s.store.Setting(store.SettingAPIKey)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": credential.Mask(key)})
	case http.MethodPost:
		key := strings.TrimSpace(r.FormValue("api_key"))
		var err error
		if key == "" {
			err = s.store.DeleteSetting(store.SettingAPIKey)
		} else {
			err = s.store.SetSetting(store.SettingAPIKey, key)
		}
		if err != nil {
			slog.Error("save api key", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		slog.Info("🔑 api key updated via web", "key", credential.Mask(key))
		writeJSON(w, http.StatusOK, map[string]string{"key": credential.Mask(key)})
	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	convs, err := s.store.Conversations(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleHistoryMessages(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", 400)
		return
	}
	msgs, err := s.store.Messages(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	files, err := transcript.ListFiles(s.transcriptDir)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if files == nil {
		files = []transcript.FileInfo{}
	}
	writeJSON(w, http.StatusOK, files)
}

// handleEvents pushes tutor notifications to one panel until it goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("events upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	c := s.hub.subscribe()
	defer s.hub.unsubscribe(c)

	st := s.tutor.Status()
	snapshot, _ := json.Marshal(event{Type: "status", Status: &st, Messages: s.tutor.Transcript()})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		return
	}

	// The panel never sends anything; reading only notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("events write failed", "err", err)
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if !s.store.PanelPasswordEnabled() || s.isValidSession(r) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, loginHTML)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
