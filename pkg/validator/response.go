package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shape identifies which response format a validation endpoint answered with.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapeModern             // {valid, message, system_component}
	ShapeLegacy             // {success, message, systemStatus}
)

func (s Shape) String() string {
	switch s {
	case ShapeModern:
		return "modern"
	case ShapeLegacy:
		return "legacy"
	default:
		return "unrecognized"
	}
}

// SystemComponent is the component report attached to a modern response.
type SystemComponent struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ModernResponse is {valid: bool, message?: string, system_component?: {name, status}, details?: any}.
type ModernResponse struct {
	Valid           bool             `json:"valid"`
	Message         *string          `json:"message"`
	SystemComponent *SystemComponent `json:"system_component"`
	Details         json.RawMessage  `json:"details"`
}

// LegacyResponse is {success: bool, message?: string, systemStatus?: {...}}.
type LegacyResponse struct {
	Success      bool           `json:"success"`
	Message      *string        `json:"message"`
	SystemStatus map[string]any `json:"systemStatus"`
}

// Response is the decoded body of a validation endpoint. Exactly one of Modern or
// Legacy is set unless Shape is ShapeUnrecognized.
type Response struct {
	Shape  Shape
	Modern *ModernResponse
	Legacy *LegacyResponse
}

// Valid reports the success flag of whichever shape was decoded.
func (r Response) Valid() bool {
	switch r.Shape {
	case ShapeModern:
		return r.Modern.Valid
	case ShapeLegacy:
		return r.Legacy.Success
	default:
		return false
	}
}

// Message returns the server-supplied message, or "" if none was sent.
func (r Response) Message() string {
	var m *string
	switch r.Shape {
	case ShapeModern:
		m = r.Modern.Message
	case ShapeLegacy:
		m = r.Legacy.Message
	}
	if m == nil {
		return ""
	}
	return *m
}

// DecodeResponse detects the response shape. It returns an error only when body is not
// valid JSON; well-formed JSON of any other shape decodes as ShapeUnrecognized.
func DecodeResponse(body []byte) (Response, error) {
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return Response{}, fmt.Errorf("invalid JSON in validation response")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		// Arrays, strings, numbers and null are valid JSON but not a known shape
		return Response{Shape: ShapeUnrecognized}, nil
	}

	if isBool(fields["valid"]) {
		var m ModernResponse
		if err := json.Unmarshal(body, &m); err == nil {
			return Response{Shape: ShapeModern, Modern: &m}, nil
		}
	}

	if isBool(fields["success"]) {
		var l LegacyResponse
		if err := json.Unmarshal(body, &l); err == nil {
			return Response{Shape: ShapeLegacy, Legacy: &l}, nil
		}
	}

	return Response{Shape: ShapeUnrecognized}, nil
}

func isBool(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s == "true" || s == "false"
}
