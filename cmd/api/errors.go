package main

import (
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"

	"signaldesk/apperror"
	"signaldesk/auth"
	"signaldesk/payment"
	"signaldesk/reset"
	sig "signaldesk/signal"
	"signaldesk/subscription"
)

// toAppError maps domain errors onto the client-facing taxonomy. Anything
// unrecognised becomes an internal error with a generic message.
func toAppError(err error) *apperror.AppError {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return apperror.FromValidation(verrs).WithInternal(err)
	}

	var out *apperror.AppError
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		out = apperror.NewUnauthenticated("Authentication required")
	case errors.Is(err, auth.ErrForbidden):
		out = apperror.NewForbidden("Insufficient permissions")
	case errors.Is(err, auth.ErrInvalidCredentials):
		out = apperror.NewUnauthenticated("Invalid credentials")
	case errors.Is(err, auth.ErrNotAdmin):
		out = apperror.NewForbidden("Not an admin account")
	case errors.Is(err, auth.ErrPendingApproval):
		out = apperror.NewForbidden("Account pending approval")
	case errors.Is(err, auth.ErrDuplicateEmail):
		out = apperror.NewConflict("Email already registered")

	case errors.Is(err, reset.ErrInvalidOrExpiredToken):
		out = apperror.NewInvalidToken("Invalid or expired token")

	case errors.Is(err, subscription.ErrInvalidPlan):
		out = apperror.NewValidation("Invalid plan", map[string]string{"plan": "must be one of Basic, Standard, Premium"})
	case errors.Is(err, subscription.ErrNotFound):
		out = apperror.NewNotFound("User not found")
	case errors.Is(err, subscription.ErrInvalidTransition):
		out = apperror.NewConflict("Action not allowed for this account")
	case errors.Is(err, subscription.ErrSelfServiceDisabled):
		out = apperror.NewForbidden("Plans are activated through payment")

	case errors.Is(err, sig.ErrNotFound):
		out = apperror.NewNotFound("Signal not found")
	case errors.Is(err, sig.ErrEmptyUpdate):
		out = apperror.NewValidation("No fields to update", nil)

	case errors.Is(err, payment.ErrUnknownProvider):
		out = apperror.NewPaymentRejected(http.StatusNotFound, "Unknown payment provider")
	case errors.Is(err, payment.ErrUnknownReference):
		out = apperror.NewPaymentRejected(http.StatusNotFound, "Unknown transaction")
	case errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, payment.ErrNotComplete),
		errors.Is(err, payment.ErrUnknownAmount),
		errors.Is(err, payment.ErrTestPayment):
		out = apperror.NewPaymentRejected(http.StatusBadRequest, "Payment rejected")

	default:
		return apperror.NewInternal(err)
	}
	return out.WithInternal(err)
}

// writeError renders err as JSON. Server faults are logged with their cause,
// client faults only at debug.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.Code >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	} else {
		s.logger.DebugContext(r.Context(), "request rejected",
			slog.String("path", r.URL.Path),
			slog.String("type", appErr.Type),
			slog.Any("error", err),
		)
	}
	writeJSON(w, appErr.Code, appErr)
}
