// Package server exposes the REST handlers for accounts, contacts, groups,
// message history, profiles, and file uploads.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"echat/internal/auth"
	"echat/internal/store"
)

const defaultAbout = "Hey there! I am using E-Chat"

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// HandleHealth reports service liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "echat"})
}

// --- Accounts ---

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
	Email       string `json:"email"`
}

func (s *Server) issueToken(w http.ResponseWriter, user *store.User) {
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		log.Printf("Issuing token for user %d failed: %v", user.ID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserID:      user.ID,
		Email:       user.Email,
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Hashing password failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	user, err := s.store.CreateUser(req.Email, hash)
	if err == store.ErrDuplicate {
		respondError(w, http.StatusBadRequest, "Email already registered")
		return
	}
	if err != nil {
		log.Printf("Creating user failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	s.issueToken(w, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.store.UserByEmail(strings.TrimSpace(strings.ToLower(req.Email)))
	if err == store.ErrNotFound || (err == nil && !auth.CheckPassword(req.Password, user.PasswordHash)) {
		respondError(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	if err != nil {
		log.Printf("Login lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	s.issueToken(w, user)
}

// --- Contacts ---

type contactResponse struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	DisplayName     string `json:"display_name,omitempty"`
	About           string `json:"about,omitempty"`
	ProfilePhotoURL string `json:"profile_photo_url,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toContactResponse(u *store.User) contactResponse {
	return contactResponse{
		ID:              u.ID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		About:           u.About,
		ProfilePhotoURL: u.ProfilePhotoURL,
		CreatedAt:       u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleGetContacts(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	users, err := s.store.Contacts(identity.UserID)
	if err != nil {
		log.Printf("Listing contacts for user %d failed: %v", identity.UserID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	contacts := make([]contactResponse, 0, len(users))
	for _, u := range users {
		contacts = append(contacts, toContactResponse(u))
	}
	respondJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	contact, err := s.store.UserByEmail(strings.TrimSpace(strings.ToLower(req.Email)))
	if err == store.ErrNotFound {
		respondError(w, http.StatusBadRequest, "User not found or invalid")
		return
	}
	if err != nil {
		log.Printf("Contact lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if contact.ID == identity.UserID {
		respondError(w, http.StatusBadRequest, "User not found or invalid")
		return
	}

	if err := s.store.AddContact(identity.UserID, contact.ID); err != nil {
		log.Printf("Adding contact failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondJSON(w, http.StatusOK, toContactResponse(contact))
}

// --- Groups ---

type groupResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AdminID   int64  `json:"admin_id"`
	CreatedAt string `json:"created_at"`
}

func toGroupResponse(g *store.Group) groupResponse {
	return groupResponse{
		ID:        g.ID,
		Name:      g.Name,
		AdminID:   g.AdminID,
		CreatedAt: g.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "Group name required")
		return
	}

	group, err := s.store.CreateGroup(strings.TrimSpace(req.Name), identity.UserID)
	if err != nil {
		log.Printf("Creating group failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondJSON(w, http.StatusOK, toGroupResponse(group))
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	groups, err := s.store.UserGroups(identity.UserID)
	if err != nil {
		log.Printf("Listing groups for user %d failed: %v", identity.UserID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupResponse(g))
	}
	respondJSON(w, http.StatusOK, out)
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

func (s *Server) handleAddGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID := pathID(r, "groupID")

	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.store.UserByEmail(strings.TrimSpace(strings.ToLower(req.Email)))
	if err == store.ErrNotFound {
		respondError(w, http.StatusBadRequest, "User not found or invalid")
		return
	}
	if err != nil {
		log.Printf("Member lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	// Adding an existing member is a no-op, not an error.
	if err := s.store.AddGroupMember(groupID, user.ID); err == store.ErrNotFound {
		respondError(w, http.StatusNotFound, "Group not found")
		return
	} else if err != nil {
		log.Printf("Adding group member failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondJSON(w, http.StatusOK, toContactResponse(user))
}

// --- History ---

func (s *Server) respondMessages(w http.ResponseWriter, msgs []*store.Message, err error) {
	if err != nil {
		log.Printf("Loading history failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	out := make([]messagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessagePayload("new_message", m))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDirectHistory(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	contactID := pathID(r, "contactID")

	msgs, err := s.store.DirectHistory(identity.UserID, contactID)
	s.respondMessages(w, msgs, err)
}

func (s *Server) handleGroupHistory(w http.ResponseWriter, r *http.Request) {
	groupID := pathID(r, "groupID")

	msgs, err := s.store.GroupHistory(groupID)
	s.respondMessages(w, msgs, err)
}

// --- Profile ---

type profileResponse struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	DisplayName     string `json:"display_name"`
	About           string `json:"about"`
	ProfilePhotoURL string `json:"profile_photo_url,omitempty"`
	ThemePreference string `json:"theme_preference"`
	LastSeen        string `json:"last_seen"`
	CreatedAt       string `json:"created_at"`
}

func toProfileResponse(u *store.User) profileResponse {
	displayName := u.DisplayName
	if displayName == "" {
		displayName, _, _ = strings.Cut(u.Email, "@")
	}
	about := u.About
	if about == "" {
		about = defaultAbout
	}
	theme := u.ThemePreference
	if theme == "" {
		theme = "light"
	}

	return profileResponse{
		ID:              u.ID,
		Email:           u.Email,
		DisplayName:     displayName,
		About:           about,
		ProfilePhotoURL: u.ProfilePhotoURL,
		ThemePreference: theme,
		LastSeen:        u.LastSeen.Format(time.RFC3339),
		CreatedAt:       u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	user, err := s.store.UserByID(identity.UserID)
	if err == store.ErrNotFound {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		log.Printf("Profile lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondJSON(w, http.StatusOK, toProfileResponse(user))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req struct {
		DisplayName     *string `json:"display_name"`
		About           *string `json:"about"`
		ThemePreference *string `json:"theme_preference"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.store.UpdateProfile(identity.UserID, req.DisplayName, req.About, req.ThemePreference)
	if err != nil {
		log.Printf("Updating profile for user %d failed: %v", identity.UserID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondJSON(w, http.StatusOK, toProfileResponse(user))
}

// --- Profile photo upload ---

const maxUploadSize = 10 << 20 // 10 MiB

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "File required")
		return
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		respondError(w, http.StatusBadRequest, "File must be an image")
		return
	}

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".jpg"
	}
	filename := fmt.Sprintf("%d_%s%s", identity.UserID, uuid.New().String(), ext)

	dir := filepath.Join(s.cfg.UploadsDir, "profiles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("Creating uploads directory failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		log.Printf("Creating upload file failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		log.Printf("Writing upload failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	photoURL := "/uploads/profiles/" + filename
	if err := s.store.UpdateProfilePhoto(identity.UserID, photoURL); err != nil {
		log.Printf("Updating profile photo failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"profile_photo_url": photoURL,
		"message":           "Profile photo updated successfully",
	})
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	if err := s.store.UpdateProfilePhoto(identity.UserID, ""); err != nil {
		log.Printf("Clearing profile photo failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Profile photo deleted successfully"})
}
