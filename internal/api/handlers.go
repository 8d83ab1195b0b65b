package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/susu3304/pokerdues/internal/game"
	"github.com/susu3304/pokerdues/internal/report"
)

type errorState struct {
	Message string `json:"message"`
	Show    bool   `json:"show"`
}

type gameState struct {
	GameID               uuid.UUID          `json:"gameId"`
	Players              []game.Player      `json:"players"`
	Transactions         []game.Transaction `json:"transactions"`
	OriginalTransactions []game.Transaction `json:"originalTransactions"`
	GrandTotal           float64            `json:"grandTotal"`
	Error                errorState         `json:"error"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleGetGame(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.state())
}

func (a *API) state() gameState {
	msg, show := a.game.LastError()
	return gameState{
		GameID:               a.game.GameID(),
		Players:              a.game.Players(),
		Transactions:         nonNil(a.game.Transactions()),
		OriginalTransactions: nonNil(a.game.OriginalTransactions()),
		GrandTotal:           a.game.GrandTotal(),
		Error:                errorState{Message: msg, Show: show},
	}
}

func (a *API) handleClearGame(w http.ResponseWriter, r *http.Request) {
	if err := a.game.ClearGame(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger(r).WithField("game_id", a.game.GameID()).Info("api: game cleared")
	writeJSON(w, http.StatusOK, a.state())
}

func (a *API) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string  `json:"name"`
		BuyIn        float64 `json:"buyIn"`
		FinalBalance float64 `json:"finalBalance"`
		Mode         string  `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, err := game.ParseAddMode(req.Mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	p, created, err := a.game.UpsertPlayer(r.Context(), req.Name, req.BuyIn, req.FinalBalance, mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, p)
}

func (a *API) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := playerID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name         string  `json:"name"`
		BuyIn        float64 `json:"buyIn"`
		FinalBalance float64 `json:"finalBalance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := a.game.UpdatePlayer(r.Context(), id, req.Name, req.BuyIn, req.FinalBalance)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleApplyAmount(w http.ResponseWriter, r *http.Request) {
	id, ok := playerID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount float64 `json:"amount"`
		Mode   string  `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, err := game.ParseAddMode(req.Mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	p, err := a.game.ApplyAmount(r.Context(), id, req.Amount, mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleRemovePlayer(w http.ResponseWriter, r *http.Request) {
	id, ok := playerID(w, r)
	if !ok {
		return
	}
	if err := a.game.RemovePlayerByID(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlayerHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := playerID(w, r)
	if !ok {
		return
	}
	p, err := a.game.Player(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	buyIns, err := a.game.BuyInHistory(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"player":      p,
		"buyIns":      buyIns,
		"settlements": nonNil(a.game.SettlementsFor(p.Name)),
	})
}

func (a *API) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostID  string  `json:"hostId"`
		Expense float64 `json:"expense"`
	}
	// an empty body settles without a host
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	hostID := uuid.Nil
	if s := strings.TrimSpace(req.HostID); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			http.Error(w, "invalid hostId", http.StatusBadRequest)
			return
		}
		hostID = id
	}

	res, err := a.game.Settle(r.Context(), hostID, req.Expense)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger(r).WithFields(log.Fields{
		"game_id":      a.game.GameID(),
		"transactions": len(res.Final),
	}).Info("api: settled")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"original":   nonNil(res.Original),
		"final":      nonNil(res.Final),
		"grandTotal": a.game.GrandTotal(),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totals":  a.game.YearTotals(),
		"records": nonNil(a.game.StatRecords()),
	})
}

func (a *API) handleStatSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.game.StatSummaries()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(summaries))
}

func (a *API) handleStatsExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="stats.csv"`)
	if err := report.ExportStatsCSV(w, a.game.StatRecords()); err != nil {
		a.logger(r).WithError(err).Error("api: stats export failed")
	}
}

func (a *API) handleClearStats(w http.ResponseWriter, r *http.Request) {
	if err := a.game.ClearStats(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger(r).Info("api: stats cleared")
	w.WriteHeader(http.StatusNoContent)
}

func playerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid player id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) logger(r *http.Request) *log.Entry {
	entry := log.WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	if claims, ok := ClaimsFrom(r.Context()); ok {
		entry = entry.WithField("subject", claims.Subject)
	}
	return entry
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, game.ErrPlayerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, game.ErrDuplicateName):
		status = http.StatusConflict
	case game.IsUserError(err):
		status = http.StatusBadRequest
	default:
		a.logger(r).WithError(err).Error("api: request failed")
	}
	writeJSON(w, status, map[string]string{"error": game.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("api: failed to encode response")
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
