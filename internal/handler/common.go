package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"p2p-queue/internal/errors"
)

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")

	statusCode := appErr.HTTPStatus()
	errResponse := Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

// handleError writes any service error, mapping unknown errors to internal_error.
func handleError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, errors.NewAppError(errors.ServiceUnavailable, "request cancelled or timed out").WithDetails(err.Error()))
		return
	}
	writeError(w, errors.AsAppError(err))
}

func pathID(r *http.Request) (uuid.UUID, *errors.AppError) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Validation("invalid id %q", raw)
	}
	return id, nil
}

// decodeBody decodes a JSON body. An empty body leaves dst untouched when
// optional is set.
func decodeBody(r *http.Request, dst interface{}, optional bool) *errors.AppError {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}
	if optional && err == io.EOF {
		return nil
	}
	return errors.NewAppError(errors.ValidationFailed, "invalid request body").WithDetails(err.Error())
}
