package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dashieapp/dashie-auth/deviceflow"
	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
)

// CreateDeviceCode opens a ticket for a requesting device.
func (s *Server) CreateDeviceCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceflow.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, deviceflow.ErrorCodeInvalidRequest, "failed to parse request body", http.StatusBadRequest)
			return
		}
		if req.DeviceType == "" {
			writeJSONError(w, deviceflow.ErrorCodeInvalidRequest, "device_type is required", http.StatusBadRequest)
			return
		}

		authz, err := s.flow.CreateDeviceCode(r.Context(), req.DeviceType, req.DeviceName)
		if err != nil {
			log.Error().Err(err).Msg("create device code failed")
			writeJSONError(w, deviceflow.ErrorCodeServerError, "could not create device code", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, deviceflow.CreateResponse{
			DeviceCode:              authz.DeviceCode,
			UserCode:                authz.UserCode,
			VerificationURI:         authz.VerificationURI,
			VerificationURIComplete: authz.VerificationURIComplete,
			ExpiresIn:               int(authz.ExpiresIn.Seconds()),
			Interval:                int(authz.Interval.Seconds()),
		})
	}
}

// PollDeviceCode reports ticket state to the requesting device. Terminal
// ticket outcomes (expired, replayed) travel as statuses in a 200 body so
// the polling client can distinguish them from transport failures worth
// retrying.
func (s *Server) PollDeviceCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceflow.PollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, deviceflow.ErrorCodeInvalidRequest, "failed to parse request body", http.StatusBadRequest)
			return
		}
		if req.DeviceCode == "" {
			writeJSONError(w, deviceflow.ErrorCodeInvalidRequest, "device_code is required", http.StatusBadRequest)
			return
		}

		result, err := s.flow.PollDeviceCode(r.Context(), req.DeviceCode)
		if err != nil {
			switch {
			case errors.Is(err, autherrors.ErrTicketExpired):
				writeJSON(w, http.StatusOK, deviceflow.PollResponse{Status: deviceflow.PollStatusExpired})
			case errors.Is(err, autherrors.ErrTicketAlreadyConsumed),
				errors.Is(err, autherrors.ErrTicketNotFound):
				writeJSON(w, http.StatusOK, deviceflow.PollResponse{Status: deviceflow.PollStatusInvalid})
			default:
				log.Error().Err(err).Msg("poll device code failed")
				writeJSONError(w, deviceflow.ErrorCodeServerError, "could not poll device code", http.StatusInternalServerError)
			}
			return
		}

		if result.Status == deviceflow.StatusPending {
			writeJSON(w, http.StatusOK, deviceflow.PollResponse{
				Status:   deviceflow.PollStatusPending,
				Interval: int(result.Interval.Seconds()),
			})
			return
		}

		writeJSON(w, http.StatusOK, deviceflow.PollResponse{
			Status:  deviceflow.PollStatusAuthorized,
			Session: deviceflow.NewSessionPayload(result.Credential),
		})
	}
}

// AuthorizeDeviceCode records the authorizing device's consent.
func (s *Server) AuthorizeDeviceCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceflow.AuthorizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, deviceflow.ErrorCodeInvalidRequest, "failed to parse request body", http.StatusBadRequest)
			return
		}
		if req.Code == "" {
			writeJSONError(w, deviceflow.ErrorCodeInvalidRequest, "code is required", http.StatusBadRequest)
			return
		}
		if err := req.Tokens.Validate(); err != nil {
			writeJSONError(w, deviceflow.ErrorCodeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}

		if err := s.flow.AuthorizeDeviceCode(r.Context(), req.Code, req.Tokens); err != nil {
			errorCode, status := deviceflow.ErrorCodeFor(err)
			if status >= http.StatusInternalServerError {
				log.Error().Err(err).Msg("authorize device code failed")
			}
			writeJSONError(w, errorCode, err.Error(), status)
			return
		}

		writeJSON(w, http.StatusOK, deviceflow.AuthorizeResponse{Success: true})
	}
}

// RefreshCredential exchanges a refresh token for a fresh session credential.
func (s *Server) RefreshCredential() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceflow.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, deviceflow.ErrorCodeInvalidRequest, "failed to parse request body", http.StatusBadRequest)
			return
		}
		if req.RefreshToken == "" {
			writeJSONError(w, deviceflow.ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
			return
		}

		credential, err := s.flow.RefreshCredential(r.Context(), req.RefreshToken)
		if err != nil {
			if errors.Is(err, autherrors.ErrInvalidGrant) {
				writeJSONError(w, deviceflow.ErrorCodeInvalidGrant, "refresh token rejected", http.StatusBadRequest)
				return
			}
			log.Error().Err(err).Msg("refresh credential failed")
			writeJSONError(w, deviceflow.ErrorCodeServerError, "could not refresh credential", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, deviceflow.NewSessionPayload(credential))
	}
}

// Healthz answers liveness probes and the client's reachability check.
func (s *Server) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeJSONError writes an OAuth2-style error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, deviceflow.ErrorResponse{
		Error:            errorCode,
		ErrorDescription: description,
	})
}
