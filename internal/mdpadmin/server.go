// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mdpadmin exposes a broker's runtime state over a small HTTP API:
// read-only stats/service/worker listings, plus a bearer-token-gated
// endpoint to force-evict a stuck worker.
package mdpadmin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"hermes/internal/logger"
	"hermes/internal/mdp"
)

// BrokerView is the subset of *mdp.Broker the admin API depends on,
// narrow enough to fake in tests without a running reactor.
type BrokerView interface {
	Stats() mdp.BrokerStats
	Services() map[string]int
	Workers() map[string]string
	Address() string
	EvictWorker(addr string) bool
}

// Server serves the admin HTTP API for one broker.
type Server struct {
	broker    BrokerView
	jwtSecret []byte
	router    *mux.Router
	log       zerolog.Logger
}

// NewServer builds an admin server in front of broker. jwtSecret signs
// and verifies bearer tokens for the mutating /admin/* routes; an empty
// secret disables token checking entirely (read-only routes stay open).
func NewServer(broker BrokerView, jwtSecret string) *Server {
	s := &Server{
		broker:    broker,
		jwtSecret: []byte(jwtSecret),
		log:       logger.New(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/services", s.handleServices).Methods(http.MethodGet)
	api.HandleFunc("/workers", s.handleWorkers).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireToken)
	admin.HandleFunc("/reap/{address}", s.handleReap).Methods(http.MethodPost)

	return r
}

// ListenAndServe blocks serving the admin API at addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info().Str("addr", addr).Msg("admin API listening")
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("admin request")
	})
}

type adminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssueToken signs a short-lived operator token once password has been
// checked against hashedPassword (an operator credential provisioned out
// of band, e.g. via the broker's config file).
func (s *Server) IssueToken(password, hashedPassword string) (string, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return "", fmt.Errorf("mdpadmin: invalid credentials: %w", err)
	}

	now := time.Now()
	claims := &adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "hermes-admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(1 * time.Hour)),
		},
		Role: "operator",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		_, err := jwt.ParseWithClaims(auth[len(prefix):], &adminClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.jwtSecret, nil
		})
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Stats())
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Services())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Workers())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "address": s.broker.Address()})
}

// handleReap forces eviction of a worker, e.g. one an operator has
// determined is wedged despite still answering heartbeats.
func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !s.broker.EvictWorker(addr) {
		http.Error(w, fmt.Sprintf("unknown worker %q", addr), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr, "status": "evicted"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
