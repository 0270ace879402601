package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/listenup-captions/internal/auth"
	"github.com/listenupapp/listenup-captions/internal/captions"
	"github.com/listenupapp/listenup-captions/internal/service"
)

// settleTimeout bounds how long a session request waits for the caption to settle.
// Past it the caption comes back as pending and arrives later over SSE.
const settleTimeout = 5 * time.Second

var sessionSecurity = []map[string][]string{{"session": {}}}

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "startSession",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Start session",
		Description:   "Opens a playback session on a book and returns its handle with the first caption",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusCreated,
	}, s.handleStartSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "updatePosition",
		Method:      http.MethodPut,
		Path:        "/api/v1/session/position",
		Summary:     "Update position",
		Description: "Reports the playback position and returns the caption for it",
		Tags:        []string{"Sessions"},
		Security:    sessionSecurity,
	}, s.handleUpdatePosition)

	huma.Register(s.api, huma.Operation{
		OperationID: "changeBook",
		Method:      http.MethodPut,
		Path:        "/api/v1/session/book",
		Summary:     "Change book",
		Description: "Switches the session to another book",
		Tags:        []string{"Sessions"},
		Security:    sessionSecurity,
	}, s.handleChangeBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "setCaptionsEnabled",
		Method:      http.MethodPut,
		Path:        "/api/v1/session/captions",
		Summary:     "Toggle captions",
		Description: "Turns captions on or off for the session",
		Tags:        []string{"Sessions"},
		Security:    sessionSecurity,
	}, s.handleSetEnabled)

	huma.Register(s.api, huma.Operation{
		OperationID: "getCaption",
		Method:      http.MethodGet,
		Path:        "/api/v1/session/caption",
		Summary:     "Current caption",
		Description: "Returns the caption currently shown for the session",
		Tags:        []string{"Sessions"},
		Security:    sessionSecurity,
	}, s.handleGetCaption)

	huma.Register(s.api, huma.Operation{
		OperationID: "getSessionState",
		Method:      http.MethodGet,
		Path:        "/api/v1/session/state",
		Summary:     "Controller state",
		Description: "Returns the caption controller's window and reload state",
		Tags:        []string{"Sessions"},
		Security:    sessionSecurity,
	}, s.handleGetState)

	huma.Register(s.api, huma.Operation{
		OperationID:   "endSession",
		Method:        http.MethodDelete,
		Path:          "/api/v1/session",
		Summary:       "End session",
		Description:   "Closes the session",
		Tags:          []string{"Sessions"},
		Security:      sessionSecurity,
		DefaultStatus: http.StatusNoContent,
	}, s.handleEndSession)
}

// === DTOs ===

// StartSessionRequest is the request body for starting a session.
type StartSessionRequest struct {
	BookID   string          `json:"book_id" minLength:"1" doc:"Book to play"`
	Position float64         `json:"position,omitempty" minimum:"0" doc:"Starting position in seconds"`
	Client   auth.ClientInfo `json:"client,omitempty" doc:"Player identification"`
}

// StartSessionInput wraps the start session request for Huma.
type StartSessionInput struct {
	Body StartSessionRequest
}

// SessionResponse is the session handle returned on start.
type SessionResponse struct {
	SessionID string          `json:"session_id" doc:"Session ID, used to filter the event stream"`
	Token     string          `json:"token" doc:"Session handle for the Authorization header"`
	ExpiresAt time.Time       `json:"expires_at" doc:"Handle expiry"`
	Caption   CaptionResponse `json:"caption" doc:"Caption at the starting position"`
}

// SessionOutput wraps the session response for Huma.
type SessionOutput struct {
	Body SessionResponse
}

// SessionInput carries the session handle.
type SessionInput struct {
	Authorization string `header:"Authorization"`
}

// UpdatePositionInput wraps a position report.
type UpdatePositionInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		Position float64 `json:"position" minimum:"0" doc:"Playback position in seconds"`
	}
}

// ChangeBookInput wraps a book switch.
type ChangeBookInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		BookID   string  `json:"book_id" minLength:"1" doc:"New book"`
		Position float64 `json:"position,omitempty" minimum:"0" doc:"Position in the new book"`
	}
}

// SetEnabledInput wraps a captions toggle.
type SetEnabledInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		Enabled bool `json:"enabled" doc:"Whether captions are shown"`
	}
}

// CaptionResponse is the caption for a session at a position.
type CaptionResponse struct {
	SessionID string            `json:"session_id" doc:"Session ID"`
	BookID    string            `json:"book_id" doc:"Current book"`
	Position  float64           `json:"position" doc:"Evaluated position in seconds"`
	Outcome   string            `json:"outcome,omitempty" doc:"How the position was resolved"`
	Sentence  *SentenceResponse `json:"sentence" doc:"Active sentence, null when none"`
	Enabled   bool              `json:"enabled" doc:"Captions enabled"`
	Reloading bool              `json:"reloading" doc:"A window load is in flight"`
	Error     string            `json:"error,omitempty" doc:"Last load error"`
}

// CaptionOutput wraps a caption for Huma.
type CaptionOutput struct {
	Body CaptionResponse
}

// StateResponse exposes a controller snapshot.
type StateResponse struct {
	BookID      string     `json:"book_id" doc:"Current book"`
	Enabled     bool       `json:"enabled" doc:"Captions enabled"`
	Reloading   bool       `json:"reloading" doc:"A window load is in flight"`
	Attempts    int        `json:"attempts" doc:"Empty reloads since the last hit"`
	LastReload  *time.Time `json:"last_reload,omitempty" doc:"Last reload time"`
	WindowStart float64    `json:"window_start" doc:"Loaded window start in seconds"`
	WindowEnd   float64    `json:"window_end" doc:"Loaded window end in seconds"`
	WindowSize  int        `json:"window_size" doc:"Sentences in the window"`
	LastError   string     `json:"last_error,omitempty" doc:"Last load error"`
}

// StateOutput wraps a controller snapshot for Huma.
type StateOutput struct {
	Body StateResponse
}

func toCaptionResponse(c *service.Caption) CaptionResponse {
	resp := CaptionResponse{
		SessionID: c.SessionID,
		BookID:    c.BookID,
		Position:  c.Position,
		Outcome:   c.Outcome,
		Enabled:   c.Enabled,
		Reloading: c.Reloading,
		Error:     c.Error,
	}
	if c.Sentence != nil {
		resp.Sentence = &SentenceResponse{
			ID:        c.Sentence.ID,
			Text:      c.Sentence.Text,
			StartTime: c.Sentence.StartTime,
			EndTime:   c.Sentence.EndTime,
		}
	}
	return resp
}

func toStateResponse(st captions.State) StateResponse {
	resp := StateResponse{
		BookID:      st.BookID,
		Enabled:     st.Enabled,
		Reloading:   st.Reloading,
		Attempts:    st.Attempts,
		WindowStart: st.WindowStart,
		WindowEnd:   st.WindowEnd,
		WindowSize:  st.WindowSize,
		LastError:   st.LastError,
	}
	if !st.LastReload.IsZero() {
		t := st.LastReload
		resp.LastReload = &t
	}
	return resp
}

// === Handlers ===

func (s *Server) handleStartSession(ctx context.Context, input *StartSessionInput) (*SessionOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	handle, err := s.services.Playback.StartSession(ctx, input.Body.BookID, input.Body.Position, input.Body.Client)
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Body: SessionResponse{
		SessionID: handle.SessionID,
		Token:     handle.Token,
		ExpiresAt: handle.ExpiresAt,
		Caption:   toCaptionResponse(handle.Caption),
	}}, nil
}

func (s *Server) handleUpdatePosition(ctx context.Context, input *UpdatePositionInput) (*CaptionOutput, error) {
	token, err := sessionToken(input.Authorization)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	caption, err := s.services.Playback.UpdatePosition(ctx, token, input.Body.Position)
	if err != nil {
		return nil, err
	}
	return &CaptionOutput{Body: toCaptionResponse(caption)}, nil
}

func (s *Server) handleChangeBook(ctx context.Context, input *ChangeBookInput) (*CaptionOutput, error) {
	token, err := sessionToken(input.Authorization)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	caption, err := s.services.Playback.ChangeBook(ctx, token, input.Body.BookID, input.Body.Position)
	if err != nil {
		return nil, err
	}
	return &CaptionOutput{Body: toCaptionResponse(caption)}, nil
}

func (s *Server) handleSetEnabled(ctx context.Context, input *SetEnabledInput) (*CaptionOutput, error) {
	token, err := sessionToken(input.Authorization)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	caption, err := s.services.Playback.SetEnabled(ctx, token, input.Body.Enabled)
	if err != nil {
		return nil, err
	}
	return &CaptionOutput{Body: toCaptionResponse(caption)}, nil
}

func (s *Server) handleGetCaption(ctx context.Context, input *SessionInput) (*CaptionOutput, error) {
	token, err := sessionToken(input.Authorization)
	if err != nil {
		return nil, err
	}

	caption, err := s.services.Playback.Caption(ctx, token)
	if err != nil {
		return nil, err
	}
	return &CaptionOutput{Body: toCaptionResponse(caption)}, nil
}

func (s *Server) handleGetState(ctx context.Context, input *SessionInput) (*StateOutput, error) {
	token, err := sessionToken(input.Authorization)
	if err != nil {
		return nil, err
	}

	st, err := s.services.Playback.State(ctx, token)
	if err != nil {
		return nil, err
	}
	return &StateOutput{Body: toStateResponse(st)}, nil
}

func (s *Server) handleEndSession(ctx context.Context, input *SessionInput) (*struct{}, error) {
	token, err := sessionToken(input.Authorization)
	if err != nil {
		return nil, err
	}
	if err := s.services.Playback.EndSession(ctx, token); err != nil {
		return nil, err
	}
	return nil, nil
}
