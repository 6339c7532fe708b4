package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/attendance"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/storage"
)

const (
	tokenHeader     = "X-Fpattend-Token"
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 1 << 20
	dateLayout      = "2006-01-02"
)

// StatusSource reports the device session state.
type StatusSource interface {
	Snapshot() device.Snapshot
}

// Registry is the student and event storage the API reads and writes.
type Registry interface {
	AddStudent(ctx context.Context, in storage.NewStudent) (storage.Student, error)
	ListStudents(ctx context.Context) ([]storage.Student, error)
	EnrollInClass(ctx context.Context, studentID int64, classCode string) error
	RecentEvents(ctx context.Context, limit int) ([]storage.DeviceEvent, error)
	AttendanceForDay(ctx context.Context, classCode string, day time.Time) ([]storage.Attendance, error)
}

// Options tune the HTTP surface.
type Options struct {
	// AuthToken, when set, is required on every /api and /ws request. Only
	// /ws accepts it as a ?token= query parameter, since browsers cannot set
	// headers on a websocket handshake.
	AuthToken string
	// CORSOrigin is echoed in Access-Control-Allow-Origin; comma separated
	// values also restrict websocket origins.
	CORSOrigin string
}

// Server exposes the attendance service over HTTP and websockets.
type Server struct {
	svc      *attendance.Service
	registry Registry
	status   StatusSource
	hub      *Hub
	opts     Options

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

// New wires the API. hub may be nil when websockets are not needed.
func New(svc *attendance.Service, registry Registry, status StatusSource, hub *Hub, opts Options) *Server {
	s := &Server{
		svc:            svc,
		registry:       registry,
		status:         status,
		hub:            hub,
		opts:           opts,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	for _, origin := range strings.Split(opts.CORSOrigin, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		s.allowedOrigins[origin] = true
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/fingerprint/status", s.authorized(s.handleStatus))
	mux.HandleFunc("GET /api/fingerprint/registered", s.authorized(s.handleRegistered))
	mux.HandleFunc("POST /api/fingerprint/register", s.authorized(s.handleRegister))
	mux.HandleFunc("POST /api/fingerprint/verify", s.authorized(s.handleVerify))
	mux.HandleFunc("POST /api/fingerprint/verify-and-mark", s.authorized(s.handleVerifyAndMark))
	mux.HandleFunc("DELETE /api/fingerprint/{studentId}", s.authorized(s.handleDelete))
	mux.HandleFunc("GET /api/students", s.authorized(s.handleListStudents))
	mux.HandleFunc("POST /api/students", s.authorized(s.handleAddStudent))
	mux.HandleFunc("GET /api/attendance/date", s.authorized(s.handleAttendanceByDate))
	mux.HandleFunc("GET /api/device/events", s.authorized(s.handleEvents))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, payload{"success": true, "status": "ok"})
	})
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.authorizedWS(s.handleWS))
	}
	return s.cors(mux)
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown")
	}
	log.Info().Msg("http server stopped")
	return nil
}

type payload map[string]any

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("write response failed")
	}
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, payload{"success": false, "message": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid JSON body")
	}
	return nil
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status, body := http.StatusInternalServerError, payload{"success": false, "message": err.Error()}

	var unknown *attendance.UnknownTemplateError
	switch {
	case errors.As(err, &unknown):
		status = http.StatusNotFound
		body["message"] = "Student not found for fingerprint ID " + strconv.Itoa(unknown.TemplateID) + ". Please register this fingerprint first."
		body["templateId"] = unknown.TemplateID
		body["needsEnrollment"] = true
	case device.KindOf(err) != 0:
		switch device.KindOf(err) {
		case device.KindNotConnected:
			status = http.StatusServiceUnavailable
		case device.KindBusy:
			status = http.StatusConflict
		case device.KindTimeout:
			status = http.StatusGatewayTimeout
		case device.KindDevice:
			status = http.StatusUnprocessableEntity
			msg, _ := device.DeviceMessage(err)
			body["deviceMessage"] = msg
		case device.KindTransport:
			status = http.StatusBadGateway
		}
	case errors.Is(err, device.ErrInvalidTemplateID):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrStudentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, attendance.ErrAlreadyRegistered),
		errors.Is(err, attendance.ErrNotRegistered),
		errors.Is(err, storage.ErrDuplicateStudent),
		errors.Is(err, storage.ErrTemplateInUse):
		status = http.StatusConflict
	case errors.Is(err, attendance.ErrNotInClass):
		status = http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		log.Info().Err(err).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Snapshot()
	writeJSON(w, http.StatusOK, payload{
		"success":   true,
		"connected": snap.State == device.StateConnected,
		"device":    snap,
	})
}

func (s *Server) handleRegistered(w http.ResponseWriter, r *http.Request) {
	students, err := s.svc.Registered(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload{"success": true, "count": len(students), "students": students})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID int64 `json:"studentId"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StudentID <= 0 {
		fail(w, http.StatusBadRequest, "Student ID is required")
		return
	}
	st, err := s.svc.Register(r.Context(), req.StudentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload{
		"success":    true,
		"message":    "Fingerprint registered successfully",
		"templateId": st.FingerprintID,
		"student":    st,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Identify(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload{
		"success":    true,
		"message":    "Student identified: " + st.Name,
		"templateId": st.FingerprintID,
		"student":    st,
	})
}

func (s *Server) handleVerifyAndMark(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClassCode string `json:"classCode"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ClassCode = strings.TrimSpace(req.ClassCode)
	if req.ClassCode == "" {
		fail(w, http.StatusBadRequest, "Class code is required")
		return
	}
	res, err := s.svc.VerifyAndMark(r.Context(), req.ClassCode)
	if err != nil {
		writeError(w, err)
		return
	}
	msg := "Attendance marked for " + res.Student.Name
	if res.AlreadyMarked {
		msg = "Attendance already marked for " + res.Student.Name
	}
	writeJSON(w, http.StatusOK, payload{
		"success":       true,
		"message":       msg,
		"alreadyMarked": res.AlreadyMarked,
		"student":       res.Student,
		"attendance":    res.Attendance,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("studentId"), 10, 64)
	if err != nil || id <= 0 {
		fail(w, http.StatusBadRequest, "invalid student id")
		return
	}
	if err := s.svc.Unregister(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload{"success": true, "message": "Fingerprint deleted successfully"})
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.registry.ListStudents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload{"success": true, "count": len(students), "students": students})
}

func (s *Server) handleAddStudent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		storage.NewStudent
		Classes []string `json:"classes"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RollNumber) == "" || strings.TrimSpace(req.Name) == "" {
		fail(w, http.StatusBadRequest, "Roll number and name are required")
		return
	}
	st, err := s.registry.AddStudent(r.Context(), req.NewStudent)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, code := range req.Classes {
		if err := s.registry.EnrollInClass(r.Context(), st.ID, code); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, payload{"success": true, "message": "Student created", "student": st})
}

func (s *Server) handleAttendanceByDate(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		fail(w, http.StatusBadRequest, "Date is required")
		return
	}
	day, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		fail(w, http.StatusBadRequest, "Date must be YYYY-MM-DD")
		return
	}
	records, err := s.registry.AttendanceForDay(r.Context(), r.URL.Query().Get("classCode"), day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload{
		"success":    true,
		"date":       day.Format(dateLayout),
		"count":      len(records),
		"attendance": records,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	events, err := s.registry.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload{"success": true, "events": events})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	log.Info().Str("remote", r.RemoteAddr).Msg("ws client connected")
	c := s.hub.AddClient(conn)

	go func() {
		defer func() {
			s.hub.RemoveClient(c)
			log.Info().Str("remote", r.RemoteAddr).Msg("ws client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return s.guard(next, false)
}

func (s *Server) authorizedWS(next http.HandlerFunc) http.HandlerFunc {
	return s.guard(next, true)
}

func (s *Server) guard(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r, allowQuery) {
			fail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) authorize(r *http.Request, allowQuery bool) bool {
	if s.opts.AuthToken == "" {
		return true
	}
	if s.tokenMatches(r.Header.Get(tokenHeader)) {
		return true
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") &&
		s.tokenMatches(strings.TrimPrefix(auth, "Bearer ")) {
		return true
	}
	return allowQuery && s.tokenMatches(r.URL.Query().Get("token"))
}

func (s *Server) tokenMatches(got string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.AuthToken)) == 1
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allow := s.corsAllow(r.Header.Get("Origin")); allow != "" {
			w.Header().Set("Access-Control-Allow-Origin", allow)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+tokenHeader)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsAllow(origin string) string {
	switch {
	case strings.TrimSpace(s.opts.CORSOrigin) == "*":
		return "*"
	case origin != "" && s.allowedOrigins[origin]:
		return origin
	default:
		return ""
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	return err == nil && parsed.Host != "" && s.allowedHosts[parsed.Host]
}
