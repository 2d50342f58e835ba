package api

import (
	"encoding/json"
	"fmt"
	"live-queue/auth"
	"live-queue/domain"
	"live-queue/domain/event"
	"live-queue/errors"
	"live-queue/observability"
	"live-queue/services"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

type handlers struct {
	log           *slog.Logger
	auth          services.IAuthService
	notifications DomainEventPublisher
	stats         StatsProvider
	process       ProcessSampler
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type publishRequest struct {
	Type event.Type `json:"type" validate:"required"`
	// Item selects the payload shape so item text can be moderated.
	Item    string          `json:"item" validate:"omitempty,oneof=question task"`
	Payload json.RawMessage `json:"data"`
}

type statsResponse struct {
	domain.Stats
	Process *observability.ProcessStats `json:"process,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "ok",
		Data:    map[string]any{"timestamp": time.Now().UTC()},
	})
}

func (h *handlers) getStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Stats: h.stats.Stats()}
	if h.process != nil {
		if sample, err := h.process.Sample(); err == nil {
			resp.Process = &sample
		} else {
			h.log.Debug("Process sampling failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: resp})
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, err)
		return
	}
	session, err := h.auth.Register(r.Context(), auth.RegisterRequest{
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
		Avatar:   body.Avatar,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "user registered", Data: session})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, err)
		return
	}
	session, err := h.auth.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "logged in", Data: session})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: user})
}

// publishEvent lets the mutation layer hand over a committed change.
// The acting user is the authenticated caller.
func (h *handlers) publishEvent(w http.ResponseWriter, r *http.Request) {
	var body publishRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, err)
		return
	}
	if !body.Type.IsMutation() {
		h.fail(w, fmt.Errorf("%w: %s", errors.ErrUnknownEventType, body.Type))
		return
	}
	user, _ := auth.UserFromContext(r.Context())

	payload, err := body.decodePayload()
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err))
		return
	}
	if err := h.notifications.PublishDomainEvent(r.Context(), body.Type, payload, user.Name); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{Success: true, Message: "event accepted"})
}

func (p publishRequest) decodePayload() (any, error) {
	if len(p.Payload) == 0 {
		return nil, nil
	}
	var err error
	switch {
	case p.Type == event.ItemDeleted:
		var deleted domain.DeletedItem
		err = json.Unmarshal(p.Payload, &deleted)
		return deleted, err
	case p.Item == "question":
		var q domain.Question
		err = json.Unmarshal(p.Payload, &q)
		return q, err
	case p.Item == "task":
		var t domain.Task
		err = json.Unmarshal(p.Payload, &t)
		return t, err
	default:
		return p.Payload, nil
	}
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	status, message := errors.Public(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "error", err)
	}
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// decode reads a JSON body and runs struct validation on it.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
