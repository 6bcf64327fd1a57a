package gateway

import (
	"net/http"
	"strconv"

	"putting-live/apperr"
)

type attemptRequest struct {
	ParticipantID int64  `json:"participantId"`
	Result        string `json:"result"`
}

func (g *Gateway) handleStartGame(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := g.svc.StartGame(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (g *Gateway) handleResetGame(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := g.svc.ResetGame(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (g *Gateway) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req attemptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation(apperr.CodeInvalidInput, "invalid request body"))
		return
	}
	snap, err := g.svc.SubmitAttempt(r.Context(), id, req.ParticipantID, req.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (g *Gateway) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := g.svc.Attempts(r.Context(), id, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]attemptItem, 0, len(records))
	for _, rec := range records {
		items = append(items, attemptItem{
			ID:            rec.ID,
			ParticipantID: rec.ParticipantID,
			Level:         rec.Level,
			Result:        string(rec.Result),
			Outcome:       string(rec.Outcome),
			CreatedAtMs:   rec.CreatedAt.UnixMilli(),
		})
	}
	writeData(w, http.StatusOK, items)
}

type attemptItem struct {
	ID            int64  `json:"id"`
	ParticipantID int64  `json:"participantId"`
	Level         int    `json:"level"`
	Result        string `json:"result"`
	Outcome       string `json:"outcome"`
	CreatedAtMs   int64  `json:"createdAtMs"`
}

func (g *Gateway) handleDraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	finalGame, err := finalGameParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := g.svc.Draw(r.Context(), id, finalGame)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (g *Gateway) handleResetDraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	finalGame, err := finalGameParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := g.svc.ResetDraw(r.Context(), id, finalGame)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (g *Gateway) handleConfirmEntrant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	checkinID, err := pathID(r, "checkinId")
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := g.svc.ConfirmFinalGameEntrant(r.Context(), id, checkinID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (g *Gateway) handleRemoveEntrant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	participantID, err := pathID(r, "participantId")
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := g.svc.RemoveFinalGameEntrant(r.Context(), id, participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func finalGameParam(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("final_game")
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation(apperr.CodeInvalidInput, "final_game must be a boolean")
	}
	return v, nil
}
