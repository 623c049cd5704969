package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Mock auth endpoints for local development. They validate nothing, store
// nothing and issue no session; the meeting client only needs a user object
// to render. Real authentication is a separate service in production
// deployments.

type mockUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type signupRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	user := mockUser{ID: req.Email, Name: req.Name, Email: req.Email}
	if user.ID == "" {
		user.ID = fmt.Sprintf("u_%d", time.Now().UnixMilli())
	}
	if user.Name == "" {
		user.Name = "Guest"
	}

	WriteJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	user := mockUser{ID: req.Email, Email: req.Email}
	if user.ID == "" {
		user.ID = fmt.Sprintf("u_%d", time.Now().UnixMilli())
	}
	// Display name falls back to the email's local part.
	if at := strings.IndexByte(req.Email, '@'); at > 0 {
		user.Name = req.Email[:at]
	}
	if user.Name == "" {
		user.Name = "Guest"
	}

	WriteJSON(w, http.StatusOK, map[string]any{"user": user})
}
