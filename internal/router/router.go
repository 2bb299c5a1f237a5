// Package router resolves unaddressed requests to a concrete agent before
// handing them to the registry's envelope routing. Selection prefers an
// explicit capability, then a type, then the configured default type.
package router

import (
	"context"
	"fmt"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/registry"
)

type Router struct {
	registry    *registry.Registry
	defaultType string
}

func New(reg *registry.Registry, defaultType string) *Router {
	return &Router{registry: reg, defaultType: defaultType}
}

// Request describes a message that may or may not name its receiver.
type Request struct {
	Sender     string
	Receiver   string // optional; when set, capability/type are ignored
	Capability string
	Type       string
	Task       *agent.Task
}

// Dispatch resolves the request to an agent, wraps the task in an envelope,
// and routes it. The returned message carries the terminal status and result
// or failure record regardless of the error value.
func (r *Router) Dispatch(ctx context.Context, req Request) (*agent.Message, any, error) {
	receiver := req.Receiver
	if receiver == "" {
		name, err := r.resolve(req)
		if err != nil {
			return nil, nil, err
		}
		receiver = name
	}

	msg := agent.NewMessage(req.Sender, receiver, req.Task)
	result, err := r.registry.RouteMessage(ctx, msg)
	return msg, result, err
}

func (r *Router) resolve(req Request) (string, error) {
	if req.Capability != "" {
		if ag, ok := r.registry.FindBestAgentByCapability(req.Capability); ok {
			return ag.Name(), nil
		}
		return "", fmt.Errorf("no idle agent with capability %q", req.Capability)
	}

	kind := req.Type
	if kind == "" {
		kind = r.defaultType
	}
	if kind == "" {
		return "", fmt.Errorf("no receiver, capability, or type given and no default type configured")
	}

	if ag, ok := r.registry.FindBestAgent(kind); ok {
		return ag.Name(), nil
	}
	return "", fmt.Errorf("no idle agent of type %q", kind)
}

// DefaultType returns the type used when a request names neither receiver,
// capability, nor type.
func (r *Router) DefaultType() string {
	return r.defaultType
}
