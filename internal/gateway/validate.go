// ABOUTME: Request validation for the HTTP API
// ABOUTME: Checks required fields and length limits before anything reaches the store

package gateway

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/2389/coven-chat/internal/store"
)

// Field limits, counted in characters.
const (
	maxAgentNameLen = 100
	maxAgentRoleLen = 100
	maxAvatarLen    = 4
	maxTitleLen     = 200
)

// checkText trims s and enforces required and maximum length rules.
func checkText(field, s string, required bool, max int) (string, error) {
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	if utf8.RuneCountInString(s) > max {
		return "", fmt.Errorf("%s must be at most %d characters", field, max)
	}
	return s, nil
}

func (req CreateAgentRequest) validate() (store.InsertAgent, error) {
	name, err := checkText("name", req.Name, true, maxAgentNameLen)
	if err != nil {
		return store.InsertAgent{}, err
	}
	role, err := checkText("role", req.Role, true, maxAgentRoleLen)
	if err != nil {
		return store.InsertAgent{}, err
	}
	avatar, err := checkText("avatar", req.Avatar, false, maxAvatarLen)
	if err != nil {
		return store.InsertAgent{}, err
	}

	return store.InsertAgent{
		Name:        name,
		Role:        role,
		Description: strings.TrimSpace(req.Description),
		Color:       strings.TrimSpace(req.Color),
		Avatar:      avatar,
	}, nil
}

func (req CreateConversationRequest) validate() (store.InsertConversation, error) {
	title, err := checkText("title", req.Title, true, maxTitleLen)
	if err != nil {
		return store.InsertConversation{}, err
	}
	return store.InsertConversation{Title: title}, nil
}

// validate keeps message content verbatim; only blank content is refused.
func (req CreateMessageRequest) validate(conversationID string) (store.InsertMessage, error) {
	if strings.TrimSpace(req.Content) == "" {
		return store.InsertMessage{}, errors.New("content is required")
	}
	if req.AgentID != nil && strings.TrimSpace(*req.AgentID) == "" {
		return store.InsertMessage{}, errors.New("agent_id must not be empty")
	}

	return store.InsertMessage{
		ConversationID: conversationID,
		AgentID:        req.AgentID,
		IsUser:         req.IsUser,
		Content:        req.Content,
	}, nil
}
