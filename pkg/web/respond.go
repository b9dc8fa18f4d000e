package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/user"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hps-svt/tracker/pkg/audit"
	"github.com/hps-svt/tracker/pkg/inventory"
)

var validate = validator.New()

// statusFor maps inventory errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrValidation), errors.Is(err, inventory.ErrTypeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrPathEscape):
		return http.StatusForbidden
	case errors.Is(err, inventory.ErrAlreadyAssembled),
		errors.Is(err, inventory.ErrNothingAssembled),
		errors.Is(err, inventory.ErrDuplicate),
		errors.Is(err, inventory.ErrAlreadyInstalled),
		errors.Is(err, inventory.ErrNotInstalled),
		errors.Is(err, inventory.ErrInUse),
		errors.Is(err, inventory.ErrTransitionDenied):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// writeStoreError reports an inventory error with its stable code.
func writeStoreError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"code":    inventory.Code(err),
		"message": err.Error(),
	})
}

// decode reads a JSON body into dst and runs struct validation.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid request: %s", strings.Join(msgs, ", "))
		}
		return err
	}
	return nil
}

// actor names the person behind a request: the proxy-supplied user when
// present, otherwise the account running the server.
func actor(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(audit.ActorHeader)); u != "" {
		return u
	}
	return osUser()
}

func osUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}
