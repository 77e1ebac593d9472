package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/pkg/errors"
)

// TokenStore persists the tokens the auth routes obtain. *auth.Store
// satisfies it.
type TokenStore interface {
	SaveToken(service, token string) error
	Delete(service string) (bool, error)
	Services() ([]string, error)
}

type authResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Service string `json:"service"`
}

type serviceAuth struct {
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
	Stored        bool   `json:"stored"`
}

func tokensUnavailable(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Credential storage is not configured"})
}

// AuthStatusHandler reports, per backend, whether a usable instance can be
// built and whether a token is stored for it.
func AuthStatusHandler(services ServiceProvider, tokens TokenStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		stored := map[string]bool{}
		if tokens != nil {
			names, err := tokens.Services()
			if err != nil {
				writeError(w, err)
				return
			}
			for _, name := range names {
				stored[name] = true
			}
		}
		out := make([]serviceAuth, 0, len(services.Available()))
		flags := map[string]any{}
		for _, name := range services.Available() {
			svc, err := services.CreateStored(name)
			authed := err == nil && svc.IsAuthenticated()
			out = append(out, serviceAuth{Name: name, Authenticated: authed, Stored: stored[name]})
			flags[name+"_authenticated"] = authed
		}
		flags["services"] = out
		writeJSON(w, http.StatusOK, flags)
	}
}

// login authenticates a fresh instance of name with creds and stores the
// resulting token.
func login(w http.ResponseWriter, r *http.Request, services ServiceProvider, tokens TokenStore, name, display string, creds cloud.Credentials) {
	svc, err := services.CreateStored(name)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := svc.Authenticate(r.Context(), creds)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := tokens.SaveToken(name, token); err != nil {
		writeError(w, errors.Wrapf(err, "store %s token", name))
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		Message: "Successfully authenticated with " + display,
		Service: name,
	})
}

type googleAuthRequest struct {
	// ServiceAccountJSON is the key file content. It is written to the
	// configured key path before authenticating.
	ServiceAccountJSON string `json:"service_account_json"`
	CredentialsPath    string `json:"credentials_path"`
}

// GoogleAuthHandler signs in to Google Drive with a service account key,
// given either inline or as a path on the server.
func GoogleAuthHandler(services ServiceProvider, tokens TokenStore, keyPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if tokens == nil {
			tokensUnavailable(w)
			return
		}
		var req googleAuthRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body: %v", err)
			return
		}
		path := strings.TrimSpace(req.CredentialsPath)
		switch {
		case req.ServiceAccountJSON != "":
			if !json.Valid([]byte(req.ServiceAccountJSON)) {
				badRequest(w, "'service_account_json' is not valid JSON")
				return
			}
			if keyPath == "" {
				badRequest(w, "No key path is configured for uploaded service accounts")
				return
			}
			if err := cloud.WriteAtomic(keyPath, bytes.NewReader([]byte(req.ServiceAccountJSON))); err != nil {
				writeError(w, errors.Wrap(err, "store service account key"))
				return
			}
			path = keyPath
		case path == "":
			badRequest(w, "Missing 'service_account_json' or 'credentials_path'")
			return
		}
		login(w, r, services, tokens, string(cloud.Google), "Google Drive", cloud.Credentials{File: path})
	}
}

type folderfortAuthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func FolderfortAuthHandler(services ServiceProvider, tokens TokenStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if tokens == nil {
			tokensUnavailable(w)
			return
		}
		var req folderfortAuthRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body: %v", err)
			return
		}
		if !strings.Contains(req.Email, "@") || req.Password == "" {
			badRequest(w, "'email' and 'password' are required")
			return
		}
		login(w, r, services, tokens, string(cloud.Folderfort), "Folderfort", cloud.Credentials{Email: req.Email, Password: req.Password})
	}
}

type logoutRequest struct {
	Service string `json:"service"`
}

// LogoutHandler forgets the stored token of one service, or of every
// service when none is named.
func LogoutHandler(tokens TokenStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if tokens == nil {
			tokensUnavailable(w)
			return
		}
		var req logoutRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "Invalid request body: %v", err)
			return
		}
		names := []string{req.Service}
		if req.Service == "" {
			var err error
			if names, err = tokens.Services(); err != nil {
				writeError(w, err)
				return
			}
		}
		removed := []string{}
		for _, name := range names {
			ok, err := tokens.Delete(name)
			if err != nil {
				writeError(w, err)
				return
			}
			if ok {
				removed = append(removed, name)
			}
		}
		msg := "Logged out successfully"
		if len(removed) == 0 {
			msg = "No stored credentials to remove"
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg, "services": removed})
	}
}
