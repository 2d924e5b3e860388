// Package models holds the JSON request and response bodies of the HTTP API.
package models

import "github.com/statecast/backend/internal/registry"

// Admin token issuance
type TokenRequest struct {
	PasswordHash string `json:"passwordHash" validate:"required"`
	Role         string `json:"role" validate:"required,oneof=admin publisher"`
	Channel      string `json:"channel,omitempty" validate:"required_if=Role publisher,max=128"`
}

type TokenResponse struct {
	Token   string `json:"token"`
	Role    string `json:"role"`
	Channel string `json:"channel"`
}

// Publishing
type PublishResponse struct {
	Delivered *int `json:"delivered,omitempty"` // nil when the relay fans out asynchronously
	Queued    bool `json:"queued"`
}

// Diagnostics
type SubscribersResponse struct {
	Subscribers []registry.SubscriberView `json:"subscribers"`
	Count       int                       `json:"count"`
}

type ChannelsResponse struct {
	Channels         map[string]registry.ChannelStat `json:"channels"`
	TotalSubscribers int                             `json:"totalSubscribers"`
}

// Error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
