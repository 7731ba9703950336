package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"signaldesk/apperror"
	"signaldesk/auth"
	sig "signaldesk/signal"
)

type lotResponse struct {
	LotSize    float64 `json:"lot_size"`
	WinAmount  float64 `json:"win_amount"`
	LossAmount float64 `json:"loss_amount"`
}

type signalResponse struct {
	ID        string        `json:"id"`
	Pair      string        `json:"pair"`
	Entry     string        `json:"entry"`
	TP        string        `json:"tp"`
	SL        string        `json:"sl"`
	Plan      string        `json:"plan"`
	Lots      []lotResponse `json:"lots"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
}

func newSignalResponse(s sig.Signal) signalResponse {
	lots := make([]lotResponse, 0, len(s.Lots))
	for _, l := range s.Lots {
		lots = append(lots, lotResponse{LotSize: l.LotSize, WinAmount: l.WinAmount, LossAmount: l.LossAmount})
	}
	return signalResponse{
		ID:        s.ID,
		Pair:      s.Pair,
		Entry:     s.Entry,
		TP:        s.TakeProfit,
		SL:        s.StopLoss,
		Plan:      s.Plan.String(),
		Lots:      lots,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func newSignalList(signals []sig.Signal) []signalResponse {
	out := make([]signalResponse, 0, len(signals))
	for _, s := range signals {
		out = append(out, newSignalResponse(s))
	}
	return out
}

// pathID reads the {id} wildcard. Malformed ids cannot name a row, so they are not found.
func pathID(r *http.Request, what string) (string, error) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", apperror.NewNotFound(what + " not found")
	}
	return id, nil
}

// handleClientSignals lists the signals of the caller's current plan.
func (s *Server) handleClientSignals(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	signals, err := s.signals.ListForAccount(r.Context(), p.User.Account, s.accounts.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSignalList(signals))
}

func (s *Server) handleAdminSignals(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	signals, err := s.signals.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSignalList(signals))
}

func (s *Server) handleAdminSignal(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	id, err := pathID(r, "Signal")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signal, err := s.signals.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSignalResponse(signal))
}

func (s *Server) handleCreateSignal(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	var req sig.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.signals.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Message string         `json:"message"`
		ID      string         `json:"id"`
		Signal  signalResponse `json:"signal"`
	}{"Signal created", created.ID, newSignalResponse(created)})
}

func (s *Server) handleUpdateSignal(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	id, err := pathID(r, "Signal")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req sig.UpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.signals.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Message  string         `json:"message"`
		SignalID string         `json:"signal_id"`
		Signal   signalResponse `json:"signal"`
	}{"Signal updated successfully", updated.ID, newSignalResponse(updated)})
}

func (s *Server) handleDeleteSignal(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	id, err := pathID(r, "Signal")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.signals.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Deleted")
}
