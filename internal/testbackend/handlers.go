package testbackend

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mycelian/vendor-presence/internal/types"
	"github.com/mycelian/vendor-presence/internal/wire"
)

// listConversations GET /api/conversations
func (s *Server) listConversations(w http.ResponseWriter, r *http.Request, vendorID string) {
	s.mu.Lock()
	convs := s.conversationsLocked(vendorID)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, types.ListConversationsResponse{Conversations: convs})
}

// createConversation POST /api/conversations
// Enforces one conversation per (vendor, participant) and answers 409 on a
// duplicate.
func (s *Server) createConversation(w http.ResponseWriter, r *http.Request, vendorID string) {
	var req types.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ParticipantID) == "" {
		writeError(w, http.StatusBadRequest, "participantId is required")
		return
	}
	if s.createDelay > 0 {
		time.Sleep(s.createDelay)
	}

	s.mu.Lock()
	for _, c := range s.conversationsLocked(vendorID) {
		if c.ParticipantID == req.ParticipantID {
			s.mu.Unlock()
			writeError(w, http.StatusConflict, "conversation already exists")
			return
		}
	}
	conv := types.Conversation{
		ID:            s.nextID(&s.convIDs, "conv"),
		ParticipantID: req.ParticipantID,
	}
	s.conversations = append(s.conversations, conversationRow{vendorID: vendorID, conv: conv})
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, conv)
}

// listMessages GET /api/conversations/{id}/messages
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, vendorID string) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	owned := s.ownsLocked(vendorID, id)
	msgs := append([]types.Message{}, s.messages[id]...)
	s.mu.Unlock()
	if !owned {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, types.ListMessagesResponse{Messages: msgs})
}

// createMessage POST /api/messages
func (s *Server) createMessage(w http.ResponseWriter, r *http.Request, vendorID string) {
	var req types.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	s.mu.Lock()
	if !s.ownsLocked(vendorID, req.ConversationID) {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	msg := types.Message{
		ID:             s.nextID(new([]string), "msg"),
		ConversationID: req.ConversationID,
		SenderType:     types.SenderVendor,
		Body:           req.Text,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[req.ConversationID] = append(s.messages[req.ConversationID], msg)
	echo := s.echoMessages
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, msg)
	if echo {
		s.hub.push(vendorID, wire.NewMessage(msg.ConversationID, msg))
	}
}

// upsertLocation POST /api/vendor-locations
func (s *Server) upsertLocation(w http.ResponseWriter, r *http.Request, vendorID string) {
	var req types.UpsertLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if math.Abs(req.Latitude) > 90 || math.Abs(req.Longitude) > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	s.mu.Lock()
	loc, exists := s.locations[vendorID]
	if !exists {
		loc = types.PublishedLocation{ID: s.nextID(&s.locIDs, "loc"), VendorID: vendorID}
	}
	loc.Address = req.Address
	loc.Latitude = req.Latitude
	loc.Longitude = req.Longitude
	loc.UpdatedAt = time.Now().UTC()
	s.locations[vendorID] = loc
	s.mu.Unlock()

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, loc)
}

// listLocations GET /api/vendor-locations
func (s *Server) listLocations(w http.ResponseWriter, r *http.Request, vendorID string) {
	s.mu.Lock()
	out := []types.PublishedLocation{}
	if loc, ok := s.locations[vendorID]; ok {
		out = append(out, loc)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, types.ListLocationsResponse{Locations: out})
}

// deleteLocation DELETE /api/vendor-locations/{id}
func (s *Server) deleteLocation(w http.ResponseWriter, r *http.Request, vendorID string) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	loc, ok := s.locations[vendorID]
	if ok && loc.ID == id {
		delete(s.locations, vendorID)
	}
	s.mu.Unlock()
	if !ok || loc.ID != id {
		writeError(w, http.StatusNotFound, "location not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ownsLocked(vendorID, conversationID string) bool {
	for _, row := range s.conversations {
		if row.vendorID == vendorID && row.conv.ID == conversationID {
			return true
		}
	}
	return false
}
