package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"churchmap.org/internal/auth"
	"churchmap.org/internal/directory"
	"churchmap.org/internal/obs"
)

// MetricsSink receives per-call timing. Injected so the gateway carries no
// process-wide metric state of its own.
type MetricsSink interface {
	ObserveRPC(method, tool, outcome string, d time.Duration)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

// ObserveRPC implements MetricsSink.
func (NopMetrics) ObserveRPC(string, string, string, time.Duration) {}

// Dispatcher routes JSON-RPC requests and batches to the read, write and
// token services, applying the authentication gate per method.
type Dispatcher struct {
	reads   *directory.ReadService
	writes  *directory.WriteService
	tokens  *auth.TokenService
	authURL string
	metrics MetricsSink
	name    string
	version string
	tools   []toolDef
}

// NewDispatcher constructs a Dispatcher. authURL is the human sign-in flow
// advertised to unauthenticated callers.
func NewDispatcher(reads *directory.ReadService, writes *directory.WriteService, tokens *auth.TokenService, authURL, name, version string, metrics MetricsSink) *Dispatcher {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Dispatcher{
		reads:   reads,
		writes:  writes,
		tokens:  tokens,
		authURL: authURL,
		metrics: metrics,
		name:    name,
		version: version,
		tools:   catalogue(),
	}
}

// Handle processes one HTTP body — a request object or a batch array — and
// returns the serialised response plus the HTTP status to send. A nil body
// slice means no response at all (every element was a notification).
func (d *Dispatcher) Handle(ctx context.Context, ident *auth.Identity, body []byte) ([]byte, int) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return marshalOne(errorResponse(nil, CodeParseError, "empty request body", nil)), http.StatusBadRequest
	}

	if trimmed[0] != '[' {
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			return marshalOne(errorResponse(nil, CodeParseError, "parse error", nil)), http.StatusBadRequest
		}
		resp := d.dispatch(ctx, ident, &req)
		if resp == nil {
			return nil, http.StatusAccepted
		}
		return marshalOne(resp), statusFor([]*Response{resp})
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return marshalOne(errorResponse(nil, CodeParseError, "parse error", nil)), http.StatusBadRequest
	}
	if len(elements) == 0 {
		return marshalOne(errorResponse(nil, CodeInvalidRequest, "empty batch", nil)), http.StatusOK
	}
	responses := make([]*Response, 0, len(elements))
	for _, el := range elements {
		var req Request
		if err := json.Unmarshal(el, &req); err != nil {
			responses = append(responses, errorResponse(nil, CodeInvalidRequest, "invalid request", nil))
			continue
		}
		if resp := d.dispatch(ctx, ident, &req); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil, http.StatusAccepted
	}
	data, err := json.Marshal(responses)
	if err != nil {
		return marshalOne(errorResponse(nil, CodeInternal, "internal error", nil)), http.StatusOK
	}
	return data, statusFor(responses)
}

// statusFor maps a response set to an HTTP status. Application-level errors
// ride on 200 per JSON-RPC convention, except a sole auth failure (401) or
// version conflict (409).
func statusFor(responses []*Response) int {
	if len(responses) == 1 && responses[0].Error != nil {
		switch responses[0].Error.Code {
		case CodeForbidden:
			return http.StatusUnauthorized
		case CodeConflict:
			return http.StatusConflict
		}
	}
	return http.StatusOK
}

// dispatch executes one request. Returns nil for notifications: they run but
// never produce a response entry, not even on error.
func (d *Dispatcher) dispatch(ctx context.Context, ident *auth.Identity, req *Request) *Response {
	resp := d.execute(ctx, ident, req)
	if req.IsNotification() {
		if resp != nil && resp.Error != nil {
			obs.LogRequest(map[string]any{
				"level": "warn", "msg": "notification failed",
				"method": req.Method, "code": resp.Error.Code, "error": resp.Error.Message,
			})
		}
		return nil
	}
	return resp
}

func (d *Dispatcher) execute(ctx context.Context, ident *auth.Identity, req *Request) *Response {
	start := time.Now()
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request envelope", nil)
	}

	resp := newResponse(req.ID)
	tool := ""
	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{"listChanged": false},
				"resources": map[string]any{"subscribe": false, "listChanged": false},
			},
			"serverInfo": map[string]any{"name": d.name, "version": d.version},
		}
	case "ping":
		resp.Result = map[string]any{}
	case "tools/list":
		resp.Result = map[string]any{"tools": d.toolListing()}
	case "resources/list":
		resp.Result = map[string]any{"resources": resourceListing()}
	case "resources/templates/list":
		resp.Result = map[string]any{"resourceTemplates": templateListing()}
	case "resources/read":
		resp = d.readResource(ctx, ident, req)
	case "tools/call":
		resp, tool = d.handleToolCall(ctx, ident, req)
	default:
		resp = errorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method, nil)
	}

	outcome := "ok"
	if resp.Error != nil {
		outcome = "error"
	}
	d.metrics.ObserveRPC(req.Method, tool, outcome, time.Since(start))
	return resp
}

func (d *Dispatcher) toolListing() []map[string]any {
	out := make([]map[string]any, 0, len(d.tools))
	for _, def := range d.tools {
		out = append(out, map[string]any{
			"name":        string(def.Name),
			"description": def.Description,
			"inputSchema": def.InputSchema,
		})
	}
	return out
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) handleToolCall(ctx context.Context, ident *auth.Identity, req *Request) (*Response, string) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "tools/call requires a tool name", nil), ""
	}
	def, ok := d.lookupTool(params.Name)
	if !ok {
		return errorResponse(req.ID, CodeInvalidParams, "unknown tool: "+params.Name, nil), params.Name
	}
	if def.RequiresAuth && ident == nil {
		return errorResponse(req.ID, CodeForbidden, "authentication required", map[string]any{"authUrl": d.authURL}), params.Name
	}
	payload, err := d.callTool(ctx, ident, def.Name, params.Arguments)
	if err != nil {
		return errorResponse(req.ID, d.errorCode(err), errorMessage(err), d.errorData(err, ident)), params.Name
	}
	resp := newResponse(req.ID)
	resp.Result = wrapToolResult(payload)
	return resp, params.Name
}

func (d *Dispatcher) lookupTool(name string) (toolDef, bool) {
	for _, def := range d.tools {
		if string(def.Name) == name {
			return def, true
		}
	}
	return toolDef{}, false
}

// wrapToolResult packages an arbitrary payload in the uniform tool-call
// result shape.
func wrapToolResult(payload any) map[string]any {
	text, err := json.Marshal(payload)
	if err != nil {
		text = []byte(`{}`)
	}
	return map[string]any{
		"isError": false,
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
	}
}

// Tool argument shapes. expected_updated_at is left untyped: the write
// service accepts epoch seconds, epoch millis and ISO-8601 strings.
type listArgs struct {
	Limit          int  `json:"limit"`
	Offset         int  `json:"offset"`
	IncludeDeleted bool `json:"include_deleted"`
}

type refArgs struct {
	ID             int64  `json:"id"`
	Path           string `json:"path"`
	IncludeDeleted bool   `json:"include_deleted"`
}

type mutateArgs struct {
	ID                int64          `json:"id"`
	Path              string         `json:"path"`
	ExpectedUpdatedAt any            `json:"expected_updated_at"`
	Patch             map[string]any `json:"patch"`
	AffiliationIDs    []int64        `json:"affiliation_ids"`
	AffiliationID     int64          `json:"affiliation_id"`
}

type tokenArgs struct {
	DisplayName string `json:"display_name"`
	Scope       string `json:"scope"`
	OwnerID     string `json:"owner_id"`
	TokenID     string `json:"token_id"`
	All         bool   `json:"all"`
}

func (a refArgs) ref() directory.Ref    { return directory.Ref{ID: a.ID, Path: a.Path} }
func (a mutateArgs) ref() directory.Ref { return directory.Ref{ID: a.ID, Path: a.Path} }

// callTool routes one call through the exhaustive tool switch.
func (d *Dispatcher) callTool(ctx context.Context, ident *auth.Identity, tool Tool, rawArgs json.RawMessage) (any, error) {
	switch tool {
	case ToolChurchesList, ToolCountiesList, ToolNetworksList:
		var args listArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		records, err := d.reads.List(ctx, ident, toolKind(tool), directory.ListOptions{
			Limit: args.Limit, Offset: args.Offset, IncludeDeleted: args.IncludeDeleted,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"records": records, "count": len(records)}, nil

	case ToolChurchesGet, ToolCountiesGet, ToolNetworksGet:
		var args refArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		return d.reads.Get(ctx, ident, toolKind(tool), args.ref(), args.IncludeDeleted)

	case ToolChurchesCreate, ToolCountiesCreate, ToolNetworksCreate:
		var fields map[string]any
		if err := decodeArgs(rawArgs, &fields); err != nil {
			return nil, err
		}
		rec, err := d.writes.Create(ctx, ident, toolKind(tool), fields)
		if err != nil {
			return nil, err
		}
		return rec.Project(false), nil

	case ToolChurchesUpdate, ToolCountiesUpdate, ToolNetworksUpdate:
		var args mutateArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		rec, err := d.writes.Update(ctx, ident, toolKind(tool), args.ref(), args.ExpectedUpdatedAt, args.Patch)
		if err != nil {
			return nil, err
		}
		return rec.Project(false), nil

	case ToolChurchesDelete, ToolCountiesDelete, ToolNetworksDelete:
		var args mutateArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		rec, err := d.writes.Delete(ctx, ident, toolKind(tool), args.ref(), args.ExpectedUpdatedAt)
		if err != nil {
			return nil, err
		}
		return rec.Project(false), nil

	case ToolChurchesRestore, ToolCountiesRestore, ToolNetworksRestore:
		var args mutateArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		rec, err := d.writes.Restore(ctx, ident, toolKind(tool), args.ref(), args.ExpectedUpdatedAt)
		if err != nil {
			return nil, err
		}
		return rec.Project(false), nil

	case ToolAffiliationsList:
		var args refArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		return d.reads.Affiliations(ctx, ident, args.ref())

	case ToolAffiliationsSet:
		var args mutateArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		res, err := d.writes.SetAffiliations(ctx, ident, args.ref(), args.ExpectedUpdatedAt, args.AffiliationIDs)
		if err != nil {
			return nil, err
		}
		return setResultPayload(res), nil

	case ToolAffiliationsAdd:
		var args mutateArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		res, err := d.writes.AddAffiliation(ctx, ident, args.ref(), args.ExpectedUpdatedAt, args.AffiliationID)
		if err != nil {
			return nil, err
		}
		payload := setResultPayload(res.Set)
		payload["wasAdded"] = res.Changed
		return payload, nil

	case ToolAffiliationsRemove:
		var args mutateArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		res, err := d.writes.RemoveAffiliation(ctx, ident, args.ref(), args.ExpectedUpdatedAt, args.AffiliationID)
		if err != nil {
			return nil, err
		}
		payload := setResultPayload(res.Set)
		payload["wasRemoved"] = res.Changed
		return payload, nil

	case ToolTokensCreate:
		var args tokenArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		owner := ident.SubjectID
		if args.OwnerID != "" && args.OwnerID != ident.SubjectID {
			if !ident.IsAdmin() {
				return nil, directory.ErrForbidden
			}
			owner = args.OwnerID
		}
		if !ident.CanWrite() {
			return nil, directory.ErrForbidden
		}
		plaintext, tok, err := d.tokens.Create(ctx, owner, args.DisplayName, args.Scope)
		if err != nil {
			return nil, err
		}
		payload := tok.Project()
		payload["token"] = plaintext // shown exactly once
		return payload, nil

	case ToolTokensList:
		var args tokenArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		owner := ident.SubjectID
		if args.All {
			if !ident.IsAdmin() {
				return nil, directory.ErrForbidden
			}
			owner = ""
		}
		tokens, err := d.tokens.List(ctx, owner)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(tokens))
		for _, tok := range tokens {
			out = append(out, tok.Project())
		}
		return map[string]any{"tokens": out, "count": len(out)}, nil

	case ToolTokensRevoke:
		var args tokenArgs
		if err := decodeArgs(rawArgs, &args); err != nil {
			return nil, err
		}
		if args.TokenID == "" {
			return nil, directory.Validationf("token_id is required")
		}
		tok, err := d.tokens.Find(ctx, args.TokenID)
		if err != nil {
			return nil, err
		}
		if tok.OwnerID != ident.SubjectID && !ident.IsAdmin() {
			return nil, directory.ErrForbidden
		}
		if err := d.tokens.Revoke(ctx, args.TokenID); err != nil {
			return nil, err
		}
		return map[string]any{"tokenId": args.TokenID, "revoked": true}, nil
	}
	return nil, directory.Validationf("unknown tool %q", tool)
}

func setResultPayload(res *directory.SetResult) map[string]any {
	return map[string]any{
		"churchId":       res.Church.ID,
		"updatedAt":      res.Church.Version(),
		"affiliationIds": res.Current,
		"added":          res.Added,
		"removed":        res.Removed,
	}
}

// toolKind extracts the entity kind from a per-entity tool name.
func toolKind(tool Tool) directory.Kind {
	switch tool {
	case ToolChurchesList, ToolChurchesGet, ToolChurchesCreate, ToolChurchesUpdate, ToolChurchesDelete, ToolChurchesRestore:
		return directory.KindChurch
	case ToolCountiesList, ToolCountiesGet, ToolCountiesCreate, ToolCountiesUpdate, ToolCountiesDelete, ToolCountiesRestore:
		return directory.KindCounty
	case ToolNetworksList, ToolNetworksGet, ToolNetworksCreate, ToolNetworksUpdate, ToolNetworksDelete, ToolNetworksRestore:
		return directory.KindNetwork
	}
	return ""
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return directory.Validationf("malformed arguments: %v", err)
	}
	return nil
}

// errorCode maps the service failure taxonomy onto distinct JSON-RPC codes
// so clients can branch deterministically.
func (d *Dispatcher) errorCode(err error) int {
	switch {
	case errors.Is(err, directory.ErrValidation), errors.Is(err, auth.ErrInvalidInput):
		return CodeInvalidParams
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, directory.ErrForbidden), errors.Is(err, auth.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, directory.ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, directory.ErrValidation), errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, directory.ErrNotFound), errors.Is(err, auth.ErrNotFound),
		errors.Is(err, directory.ErrForbidden), errors.Is(err, auth.ErrForbidden),
		errors.Is(err, directory.ErrConflict):
		return err.Error()
	}
	return "internal error"
}

// errorData attaches the sign-in hint when an anonymous caller hits the auth
// gate.
func (d *Dispatcher) errorData(err error, ident *auth.Identity) any {
	if ident == nil && (errors.Is(err, directory.ErrForbidden) || errors.Is(err, auth.ErrForbidden)) {
		return map[string]any{"authUrl": d.authURL}
	}
	return nil
}
