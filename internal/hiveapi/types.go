package hiveapi

import (
	"fmt"
	"net/http"
	"net/url"
)

// Payload is the raw device listing returned by the API.
type Payload struct {
	Products []Node   `json:"products"`
	Devices  []Node   `json:"devices"`
	Actions  []Action `json:"actions"`
}

// Node is a product (a controllable function) or a physical device.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Parent string         `json:"parent,omitempty"`
	Props  map[string]any `json:"props"`
	State  map[string]any `json:"state"`
}

// Action is a user defined quick action that can be toggled.
type Action struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Mutation is a single state change request.
type Mutation struct {
	Method string
	Path   string
	Body   map[string]any
}

func (m Mutation) String() string {
	return m.Method + " " + m.Path
}

// NodeUpdate changes state fields of a product.
func NodeUpdate(nodeType, id string, body map[string]any) Mutation {
	return Mutation{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/nodes/%s/%s", url.PathEscape(nodeType), url.PathEscape(id)),
		Body:   body,
	}
}

// ActionUpdate enables or disables a quick action.
func ActionUpdate(id string, enabled bool) Mutation {
	return Mutation{
		Method: http.MethodPut,
		Path:   "/actions/" + url.PathEscape(id),
		Body:   map[string]any{"id": id, "enabled": enabled},
	}
}
