package server

import (
	"errors"
	"net/http"
	"strings"

	"relaywatch/internal/store"

	"golang.org/x/crypto/bcrypt"
)

const adminPasswordHeader = "X-Admin-Password"

// HashAdminPassword produces the bcrypt hash stored under the
// admin_password_hash global.
func HashAdminPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// checkAdmin reads the stored hash on every call so a password change
// takes effect without restart. An empty hash leaves the admin API open.
func (a *API) checkAdmin(r *http.Request) (authorized, passwordSet bool, err error) {
	hash, err := a.store.GetGlobal(r.Context(), store.GlobalAdminPasswordHash)
	if errors.Is(err, store.ErrNotFound) {
		return true, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if strings.TrimSpace(hash) == "" {
		return true, false, nil
	}
	password := r.Header.Get(adminPasswordHeader)
	if password == "" {
		return false, true, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return false, true, nil
	}
	return true, true, nil
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorized, _, err := a.checkAdmin(r)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "authorization check failed")
			return
		}
		if !authorized {
			writeError(w, http.StatusUnauthorized, "admin password required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleAdminSession lets a client validate credentials before using
// the admin API.
func (a *API) handleAdminSession(w http.ResponseWriter, r *http.Request) {
	authorized, passwordSet, err := a.checkAdmin(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authorization check failed")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Valid:       authorized,
		PasswordSet: passwordSet,
	})
}
