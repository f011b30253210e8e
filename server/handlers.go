package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"talkx/db"
	"talkx/models"
	"talkx/protocol"
)

func (s *Server) handleFrame(sess *Session, frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventJoinRoom:
		s.handleJoin(sess, frame)
	case protocol.EventChatMessage:
		s.handleChatMessage(sess, frame)
	case protocol.EventTyping:
		s.handleTyping(sess, frame)
	default:
		s.sendError(sess, "Unknown event: "+frame.Event)
	}
}

func (s *Server) handleJoin(sess *Session, frame protocol.Frame) {
	var join protocol.JoinRoom
	if err := frame.Decode(&join); err != nil {
		s.sendError(sess, "Invalid joinRoom payload")
		return
	}
	if join.RoomID == "" || join.UserID == "" {
		s.sendError(sess, "Room and user are required")
		return
	}
	if sess.authUserID != "" && sess.authUserID != join.UserID {
		s.sendError(sess, "Token does not match user")
		return
	}

	user, err := s.db.GetUser(join.UserID)
	if errors.Is(err, db.ErrNoRows) || (err == nil && !strings.EqualFold(user.Email, join.Email)) {
		s.sendError(sess, "Unknown user")
		return
	}
	if err != nil {
		sess.log.Error().Err(err).Msg("join: load user")
		s.sendError(sess, "Internal error")
		return
	}

	room, err := s.db.GetRoom(join.RoomID)
	if errors.Is(err, db.ErrNoRows) {
		s.sendError(sess, "Room not found")
		return
	}
	if err != nil {
		sess.log.Error().Err(err).Msg("join: load room")
		s.sendError(sess, "Internal error")
		return
	}

	// A connection is in at most one room.
	s.leaveRoom(sess)

	// The history read, the membership change and the history push happen
	// under the room lock, so every message lands either in the history or
	// in a later broadcast.
	unlock := s.lockRoom(room.ID)
	history, err := s.db.GetRecentMessages(room.ID, s.config.HistoryLimit)
	if err != nil {
		unlock()
		sess.log.Error().Err(err).Msg("join: load history")
		s.sendError(sess, "Internal error")
		return
	}
	sess.mu.Lock()
	sess.UserID = user.ID
	sess.Email = user.Email
	sess.Username = user.Username
	sess.RoomID = room.ID
	sess.mu.Unlock()
	s.joinRoomMembers(room.ID, sess)
	s.send(sess, protocol.EventChatHistory, toWire(history))
	unlock()
	sess.log.Info().Str("user", user.Email).Str("room", room.Name).Msg("joined room")

	s.send(sess, protocol.EventMessage, protocol.Message{
		SenderUsername: protocol.SystemSender,
		Kind:           protocol.KindSystem,
		Text:           fmt.Sprintf("Welcome to %s!, %s", room.Name, user.Username),
		RoomName:       room.Name,
		Timestamp:      time.Now().UTC(),
	})
	s.broadcast(room.ID, sess, protocol.EventMessage, systemMessage(user.Username+" has joined the chat"))
	s.broadcast(room.ID, nil, protocol.EventRoomUsers, s.presence(room.ID))
}

// leaveRoom takes the session out of its room and tells the others.
func (s *Server) leaveRoom(sess *Session) {
	sess.mu.Lock()
	roomID, username := sess.RoomID, sess.Username
	sess.RoomID = ""
	sess.mu.Unlock()
	if roomID == "" {
		return
	}

	s.leaveRoomMembers(roomID, sess)
	s.broadcast(roomID, nil, protocol.EventMessage, systemMessage(username+" has left the chat"))
	s.broadcast(roomID, nil, protocol.EventRoomUsers, s.presence(roomID))
}

func (s *Server) handleChatMessage(sess *Session, frame protocol.Frame) {
	userID, _, username, roomID := sess.identity()
	if roomID == "" {
		s.sendError(sess, "Join a room first")
		return
	}

	var text string
	if err := frame.Decode(&text); err != nil {
		s.sendError(sess, "Invalid chatMessage payload")
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.sendError(sess, "Message text required")
		return
	}

	unlock := s.lockRoom(roomID)
	defer unlock()
	saved, err := s.db.SaveMessage(models.Message{
		RoomID:         roomID,
		SenderID:       userID,
		SenderUsername: username,
		Text:           text,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		sess.log.Error().Err(err).Msg("save message")
		s.sendError(sess, "Internal error")
		return
	}
	s.broadcast(roomID, nil, protocol.EventMessage, toWireMessage(saved))
}

func (s *Server) handleTyping(sess *Session, frame protocol.Frame) {
	userID, email, _, roomID := sess.identity()
	if roomID == "" {
		return
	}
	var isTyping bool
	if err := frame.Decode(&isTyping); err != nil {
		s.sendError(sess, "Invalid typing payload")
		return
	}
	s.broadcast(roomID, sess, protocol.EventTypingStatus, protocol.TypingStatus{
		Email:    email,
		UserID:   userID,
		IsTyping: isTyping,
	})
}

func systemMessage(text string) protocol.Message {
	return protocol.Message{
		SenderUsername: protocol.SystemSender,
		Kind:           protocol.KindSystem,
		Text:           text,
		Timestamp:      time.Now().UTC(),
	}
}

func toWireMessage(m models.Message) protocol.Message {
	return protocol.Message{
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		Text:           m.Text,
		Timestamp:      m.Timestamp,
		Kind:           protocol.KindUser,
	}
}

func toWire(history []models.Message) []protocol.Message {
	out := make([]protocol.Message, len(history))
	for i, m := range history {
		out[i] = toWireMessage(m)
	}
	return out
}
