// Package server wires HTTP handlers into a router for the chat
// application.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes configures and returns the application router: account endpoints,
// the authenticated chat and profile APIs, the WebSocket endpoint, and
// static serving for uploaded files.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/auth/signup", s.handleSignup).Methods("POST")
	r.HandleFunc("/auth/login", s.handleLogin).Methods("POST")

	// The live endpoint authenticates via its token query parameter, so it
	// sits outside the bearer-token middleware.
	r.HandleFunc("/chat/ws", s.handleWebSocket).Methods("GET")

	chat := r.PathPrefix("/chat").Subrouter()
	chat.Use(s.requireAuth)
	chat.HandleFunc("/contacts", s.handleGetContacts).Methods("GET")
	chat.HandleFunc("/contacts", s.handleAddContact).Methods("POST")
	chat.HandleFunc("/history/{contactID:[0-9]+}", s.handleDirectHistory).Methods("GET")
	chat.HandleFunc("/groups", s.handleCreateGroup).Methods("POST")
	chat.HandleFunc("/groups", s.handleListGroups).Methods("GET")
	chat.HandleFunc("/groups/{groupID:[0-9]+}/members", s.handleAddGroupMember).Methods("POST")
	chat.HandleFunc("/groups/{groupID:[0-9]+}/history", s.handleGroupHistory).Methods("GET")

	profile := r.PathPrefix("/profile").Subrouter()
	profile.Use(s.requireAuth)
	profile.HandleFunc("/me", s.handleGetProfile).Methods("GET")
	profile.HandleFunc("/me", s.handleUpdateProfile).Methods("PUT")
	profile.HandleFunc("/photo", s.handleUploadPhoto).Methods("POST")
	profile.HandleFunc("/photo", s.handleDeletePhoto).Methods("DELETE")

	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.UploadsDir))),
	).Methods("GET")

	return r
}
