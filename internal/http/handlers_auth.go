package http

import (
	"net/http"

	"gigfin/internal/log"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, log.OpCreate, err)
		return
	}
	u, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// handleLogin opens a session and sets its cookie. Accounts with two-factor
// enabled get a pending session and must call /api/auth/2fa/verify next.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, log.OpLogin, err)
		return
	}
	res, err := s.auth.Login(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		respondError(w, r, log.OpLogin, err)
		return
	}
	s.setSessionCookie(w, res.Session)
	writeJSON(w, http.StatusOK, loginResponse{User: res.User, TwoFactorRequired: res.TwoFactorRequired})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), currentSession(r).ID); err != nil {
		respondError(w, r, log.OpDelete, err)
		return
	}
	s.clearSessionCookie(w)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, log.OpLogin, err)
		return
	}
	if err := s.auth.VerifyTwoFactor(r.Context(), currentSession(r), req.Code); err != nil {
		respondError(w, r, log.OpLogin, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{User: currentUser(r)})
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := s.auth.BeginTOTPSetup(r.Context(), currentUser(r))
	if err != nil {
		respondError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (s *Server) handleTOTPEnable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, log.OpUpdate, err)
		return
	}
	if err := s.auth.EnableTOTP(r.Context(), currentUser(r).ID, req.Code); err != nil {
		respondError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"totpEnabled": true})
}

func (s *Server) handleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, log.OpUpdate, err)
		return
	}
	if err := s.auth.DisableTOTP(r.Context(), currentUser(r).ID, req.Code); err != nil {
		respondError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"totpEnabled": false})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, meResponse{User: currentUser(r), Session: currentSession(r)})
}

func (s *Server) handleRevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	n, err := s.auth.RevokeOtherSessions(r.Context(), currentUser(r).ID, currentSession(r).ID)
	if err != nil {
		respondError(w, r, log.OpDelete, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}
