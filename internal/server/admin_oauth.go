package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mira-ai/antigravity-gateway/internal/store"
)

// oauthSessionStore stashes an in-flight PKCE verifier/state between the
// external browser redirect and its callback. The gateway never performs
// the authorization-code exchange itself (spec §1 Non-goals); it only gives
// the admin UI's own OAuth flow somewhere to keep that state, one-shot and
// TTL-bound, grounded on the teacher's SetOAuthSession/GetDelOAuthSession
// shape. Built on internal/store.TTLMap rather than a hand-rolled map, since
// a generic TTL-bound one-shot store is exactly that type's job.
type oauthSessionStore struct {
	ttl *store.TTLMap[json.RawMessage]
}

func newOAuthSessionStore() *oauthSessionStore {
	return &oauthSessionStore{ttl: store.NewTTLMap[json.RawMessage]()}
}

func (s *oauthSessionStore) put(payload json.RawMessage, ttl time.Duration) string {
	id := uuid.New().String()
	s.ttl.Set(id, payload, ttl)
	return id
}

// take redeems and removes a session; a stale or unknown id returns !ok.
func (s *oauthSessionStore) take(id string) (json.RawMessage, bool) {
	return s.ttl.GetAndDelete(id)
}

const oauthSessionTTL = 10 * time.Minute

// handleCreateOAuthSession stores an opaque PKCE payload (code_verifier,
// state, provider) the admin UI generated client-side, returning a
// session_id to hand the user's browser along with the authorization URL.
func (s *Server) handleCreateOAuthSession(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}
	id := s.oauthSessions.put(payload, oauthSessionTTL)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"session_id": id})
}

// handleRedeemOAuthSession returns and deletes a previously stashed PKCE
// payload, for the admin UI to complete its own code exchange against the
// upstream vendor directly.
func (s *Server) handleRedeemOAuthSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	payload, ok := s.oauthSessions.take(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "invalid_request_error", "unknown or expired session_id")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}
