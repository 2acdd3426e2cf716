package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mcpgateway/pkg/apierr"
	"mcpgateway/pkg/httpx"
	"mcpgateway/pkg/models"
	"mcpgateway/pkg/rbac"
	"mcpgateway/pkg/toolproxy"
)

type confirmRequest struct {
	Approved *bool `json:"approved"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Approved == nil {
		httpx.WriteError(w, r, apierr.New(apierr.KindValidation, "approved is required").
			WithSuggestion(`Send {"approved": true} or {"approved": false}.`))
		return
	}
	res, err := s.Confirm.Resolve(r.Context(), p, chi.URLParam(r, "confirmationId"), *req.Approved)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// handleToolPost treats the body as the tool's argument object.
func (s *Server) handleToolPost(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	s.invokeTool(w, r, json.RawMessage(body))
}

// handleToolGet builds the argument object from the query string.
func (s *Server) handleToolGet(w http.ResponseWriter, r *http.Request) {
	args, err := queryArguments(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, apierr.Wrap(apierr.KindValidation, "invalid query arguments", err))
		return
	}
	s.invokeTool(w, r, args)
}

func (s *Server) invokeTool(w http.ResponseWriter, r *http.Request, args json.RawMessage) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	resp, err := s.Proxy.Invoke(r.Context(), p, chi.URLParam(r, "server"), chi.URLParam(r, "tool"), args)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := http.StatusOK
	if _, pending := resp.(models.PendingConfirmation); pending {
		status = http.StatusAccepted
	}
	httpx.WriteJSON(w, status, resp)
}

// queryArguments maps ?k=v to a JSON object. Integers become numbers and
// repeated keys become arrays.
func queryArguments(values url.Values) (json.RawMessage, error) {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			out[k] = scalar(vs[0])
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = scalar(v)
		}
		out[k] = list
	}
	return json.Marshal(out)
}

func scalar(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return v
}

type toolView struct {
	Name                 string         `json:"name"`
	Server               string         `json:"server"`
	Tool                 string         `json:"tool"`
	Kind                 rbac.ToolKind  `json:"kind"`
	Description          string         `json:"description"`
	RequiresConfirmation bool           `json:"requiresConfirmation"`
	Parameters           map[string]any `json:"parameters,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	tools := s.Router.Tools(p.AccessibleServers)
	out := make([]toolView, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolView{
			Name:                 toolproxy.QualifiedName(t.Server, t.Name),
			Server:               t.Server,
			Tool:                 t.Name,
			Kind:                 t.Kind,
			Description:          t.Description,
			RequiresConfirmation: t.Kind == rbac.KindWrite,
			Parameters:           t.Parameters,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tools": out})
}
