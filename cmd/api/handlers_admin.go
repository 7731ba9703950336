package main

import (
	"context"
	"net/http"

	"signaldesk/auth"
	"signaldesk/subscription"
)

type pendingUserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

type approvedUserResponse struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
	State  string  `json:"state"`
	Plan   *string `json:"plan"`
	Expiry *string `json:"expiry"`
}

func (s *Server) handlePendingUsers(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	members, err := s.accounts.ListPending(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]pendingUserResponse, 0, len(members))
	for _, m := range members {
		out = append(out, pendingUserResponse{
			ID:        m.UserID,
			Name:      m.Name,
			Surname:   m.Surname,
			Email:     m.Email,
			CreatedAt: *formatTime(&m.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleApprovedUsers lists approved clients with their derived subscription state.
func (s *Server) handleApprovedUsers(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	members, err := s.accounts.ListApproved(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := s.accounts.Now()
	out := make([]approvedUserResponse, 0, len(members))
	for _, m := range members {
		out = append(out, approvedUserResponse{
			ID:     m.UserID,
			Name:   m.Name,
			Email:  m.Email,
			State:  string(m.State(now)),
			Plan:   planName(m.Plan),
			Expiry: formatTime(m.End),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleApproveUser(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	s.userAction(w, r, "Approved", s.accounts.Approve)
}

func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	s.userAction(w, r, "User deactivated", s.accounts.Deactivate)
}

func (s *Server) handleRejectUser(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	id, err := pathID(r, "User")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.accounts.Reject(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Rejected")
}

func (s *Server) userAction(w http.ResponseWriter, r *http.Request, msg string, fn func(ctx context.Context, id string) (subscription.Account, error)) {
	id, err := pathID(r, "User")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := fn(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, msg)
}
