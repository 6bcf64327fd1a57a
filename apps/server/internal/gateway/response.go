package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"putting-live/apperr"
	"putting-live/apps/server/internal/room"
)

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Error   *errorBody `json:"error"`
}

func roomKey(r *http.Request) (room.Key, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return room.Key{}, err
	}
	mode, ok := room.ParseMode(r.PathValue("mode"))
	if !ok {
		return room.Key{}, apperr.Validation(apperr.CodeInvalidInput, "unknown room mode")
	}
	return room.Key{CompetitionID: id, Mode: mode}, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(apperr.CodeInvalidInput, "invalid "+name)
	}
	return id, nil
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := &errorBody{Message: err.Error(), Code: string(apperr.CodeOf(err))}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		log.Printf("[Gateway] Internal error: %v", err)
		if body.Code == "" {
			body.Code = string(apperr.CodePersistence)
		}
		body.Message = "internal error"
	}
	writeJSON(w, status, envelope{Error: body})
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
