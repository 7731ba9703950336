package main

import (
	"log/slog"
	"net/http"
	"time"

	"signaldesk/apperror"
	"signaldesk/auth"
	"signaldesk/payment"
)

type initiatePaymentRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	if err := s.payments.CheckProvider(r.PathValue("provider")); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req initiatePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.payments.Initiate(r.Context(), p.User.Account, req.Plan)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePaymentCallback receives the provider's form-encoded notification and
// answers in plain text. Rejections never mutate state.
func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	if err := s.payments.CheckProvider(r.PathValue("provider")); err != nil {
		s.callbackFailed(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.callbackFailed(w, r, apperror.NewPaymentRejected(http.StatusBadRequest, "Malformed callback").WithInternal(err))
		return
	}

	out, err := s.payments.HandleCallback(r.Context(), payment.CallbackFromForm(r.PostForm))
	if err != nil {
		s.callbackFailed(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "payment callback accepted",
		slog.String("reference", out.Reference),
		slog.Bool("replayed", out.Replayed),
	)
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) callbackFailed(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	level := slog.LevelWarn
	if appErr.Code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "payment callback rejected",
		slog.Int("status", appErr.Code),
		slog.Any("error", err),
	)
	writeText(w, appErr.Code, "FAILED")
}

type transactionResponse struct {
	Reference   string `json:"reference"`
	Provider    string `json:"provider"`
	Plan        string `json:"plan"`
	Amount      int64  `json:"amount"`
	ProcessedAt string `json:"processed_at"`
}

func (s *Server) handlePaymentHistory(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	txs, err := s.payments.History(r.Context(), p.User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, transactionResponse{
			Reference:   t.Reference,
			Provider:    t.Provider,
			Plan:        t.Plan.String(),
			Amount:      t.Amount,
			ProcessedAt: t.ProcessedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
