package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/inkwell-app/realtime/pkg/auth"
	"github.com/inkwell-app/realtime/pkg/db"
	"github.com/inkwell-app/realtime/pkg/model"
)

type loginRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type loginResponse struct {
	Token string         `json:"token"`
	User  model.ChatUser `json:"user"`
}

// LoginHandler issues a session token and records the profile in the users
// table; that row is what makes the user a valid direct-message recipient.
func LoginHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.ID == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			req.Name = req.ID
		}

		user := model.ChatUser{ID: req.ID, Name: req.Name, Username: req.Username, Avatar: req.Avatar}

		if err := session.Query(
			`INSERT INTO users (id, name, username, avatar) VALUES (?, ?, ?, ?)`,
			user.ID, user.Name, user.Username, user.Avatar,
		).WithContext(r.Context()).Exec(); err != nil {
			log.Error().Err(err).Str("user_id", user.ID).Msg("user upsert failed")
			http.Error(w, "Failed to record user", http.StatusInternalServerError)
			return
		}

		token, err := auth.GenerateToken(user)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(loginResponse{Token: token, User: user})
	}
}

// AuthMiddleware validates the bearer token and stores the claims in the
// request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), auth.UserKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
