package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"churchmap.org/internal/auth"
	"churchmap.org/internal/directory"
)

// Resources are URI-addressable read-only views over the same data the read
// tools serve: "{entity}://list" plus templated "{entity}://id/{id}" and
// "{entity}://path/{path}".

func resourceListing() []map[string]any {
	out := make([]map[string]any, 0, len(directory.Kinds))
	for _, kind := range directory.Kinds {
		plural := kind.Plural()
		out = append(out, map[string]any{
			"uri":      plural + "://list",
			"name":     strings.ToUpper(plural[:1]) + plural[1:],
			"mimeType": "application/json",
		})
	}
	return out
}

func templateListing() []map[string]any {
	var out []map[string]any
	for _, kind := range directory.Kinds {
		plural := kind.Plural()
		out = append(out,
			map[string]any{
				"uriTemplate": plural + "://id/{id}",
				"name":        fmt.Sprintf("One of %s by id", plural),
				"mimeType":    "application/json",
			},
			map[string]any{
				"uriTemplate": plural + "://path/{path}",
				"name":        fmt.Sprintf("One of %s by path", plural),
				"mimeType":    "application/json",
			},
		)
	}
	return out
}

type readResourceParams struct {
	URI string `json:"uri"`
}

func (d *Dispatcher) readResource(ctx context.Context, ident *auth.Identity, req *Request) *Response {
	var params readResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return errorResponse(req.ID, CodeInvalidParams, "resources/read requires a uri", nil)
	}
	payload, err := d.resolveResource(ctx, ident, params.URI)
	if err != nil {
		return errorResponse(req.ID, d.errorCode(err), errorMessage(err), d.errorData(err, ident))
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(req.ID, CodeInternal, "internal error", nil)
	}
	resp := newResponse(req.ID)
	resp.Result = map[string]any{
		"contents": []map[string]any{
			{"uri": params.URI, "mimeType": "application/json", "text": string(text)},
		},
	}
	return resp
}

func (d *Dispatcher) resolveResource(ctx context.Context, ident *auth.Identity, uri string) (any, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, directory.Validationf("malformed resource uri %q", uri)
	}
	kind, ok := directory.KindFromPlural(scheme)
	if !ok {
		return nil, directory.Validationf("unknown resource scheme %q", scheme)
	}
	switch {
	case rest == "list":
		records, err := d.reads.List(ctx, ident, kind, directory.ListOptions{})
		if err != nil {
			return nil, err
		}
		return map[string]any{"records": records, "count": len(records)}, nil
	case strings.HasPrefix(rest, "id/"):
		id, err := strconv.ParseInt(rest[len("id/"):], 10, 64)
		if err != nil || id <= 0 {
			return nil, directory.Validationf("malformed resource id in %q", uri)
		}
		return d.reads.Get(ctx, ident, kind, directory.Ref{ID: id}, false)
	case strings.HasPrefix(rest, "path/"):
		slug := rest[len("path/"):]
		if slug == "" {
			return nil, directory.Validationf("empty resource path in %q", uri)
		}
		return d.reads.Get(ctx, ident, kind, directory.Ref{Path: slug}, false)
	}
	return nil, directory.Validationf("unresolvable resource uri %q", uri)
}
