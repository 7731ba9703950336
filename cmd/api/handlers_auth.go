package main

import (
	"net/http"
	"time"

	"signaldesk/apperror"
	"signaldesk/auth"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.identity.Register(r.Context(), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Registered. Await admin approval")
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      any    `json:"user"`
}

type adminProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type clientProfile struct {
	ID              string  `json:"id"`
	Email           string  `json:"email"`
	Role            string  `json:"role"`
	Plan            *string `json:"plan"`
	SubscriptionEnd *string `json:"subscription_end"`
}

// profileFor shapes the identity for the role the credential was issued with.
func profileFor(user auth.User, role auth.Role, now time.Time) any {
	if role == auth.RoleAdmin {
		return adminProfile{ID: user.ID, Email: user.Email, Role: string(role)}
	}
	return clientProfile{
		ID:              user.ID,
		Email:           user.Email,
		Role:            string(role),
		Plan:            currentPlanName(user.Account, now),
		SubscriptionEnd: formatTime(user.Account.End),
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.identity.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresAt: *formatTime(&res.ExpiresAt),
		User:      profileFor(res.User, res.Role, s.accounts.Now()),
	})
}

type meResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Surname         string  `json:"surname"`
	Email           string  `json:"email"`
	Role            string  `json:"role"`
	State           string  `json:"state"`
	Plan            *string `json:"plan"`
	SubscriptionEnd *string `json:"subscription_end"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	acct := p.User.Account
	now := s.accounts.Now()
	writeJSON(w, http.StatusOK, meResponse{
		ID:              p.User.ID,
		Name:            p.User.Name,
		Surname:         p.User.Surname,
		Email:           p.User.Email,
		Role:            string(p.Role),
		State:           string(acct.State(now)),
		Plan:            currentPlanName(acct, now),
		SubscriptionEnd: formatTime(acct.End),
	})
}

type subscribeRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Plan == "" {
		s.writeError(w, r, apperror.NewValidation("Plan required", map[string]string{"plan": "cannot be blank"}))
		return
	}
	acct, err := s.accounts.Subscribe(r.Context(), p.User.ID, req.Plan)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Message         string  `json:"message"`
		Plan            *string `json:"plan"`
		SubscriptionEnd *string `json:"subscription_end"`
	}{"Subscribed", planName(acct.Plan), formatTime(acct.End)})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

const forgotPasswordMessage = "If that email is registered, a reset link has been sent"

// handleForgotPassword answers identically for known and unknown emails.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.resets.RequestReset(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, forgotPasswordMessage)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.resets.ConsumeReset(r.Context(), req.Token, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password updated")
}
