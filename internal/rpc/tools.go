package rpc

import (
	"fmt"

	"churchmap.org/internal/directory"
)

// Tool names the fixed catalogue of operations reachable via tools/call.
// Adding a tool means adding a constant, a catalogue entry and a case in
// callTool — the exhaustive switch keeps the three in step at compile time.
type Tool string

const (
	ToolChurchesList    Tool = "churches_list"
	ToolChurchesGet     Tool = "churches_get"
	ToolChurchesCreate  Tool = "churches_create"
	ToolChurchesUpdate  Tool = "churches_update"
	ToolChurchesDelete  Tool = "churches_delete"
	ToolChurchesRestore Tool = "churches_restore"

	ToolCountiesList    Tool = "counties_list"
	ToolCountiesGet     Tool = "counties_get"
	ToolCountiesCreate  Tool = "counties_create"
	ToolCountiesUpdate  Tool = "counties_update"
	ToolCountiesDelete  Tool = "counties_delete"
	ToolCountiesRestore Tool = "counties_restore"

	ToolNetworksList    Tool = "networks_list"
	ToolNetworksGet     Tool = "networks_get"
	ToolNetworksCreate  Tool = "networks_create"
	ToolNetworksUpdate  Tool = "networks_update"
	ToolNetworksDelete  Tool = "networks_delete"
	ToolNetworksRestore Tool = "networks_restore"

	ToolAffiliationsList   Tool = "churches_affiliations_list"
	ToolAffiliationsSet    Tool = "churches_affiliations_set"
	ToolAffiliationsAdd    Tool = "churches_affiliations_add"
	ToolAffiliationsRemove Tool = "churches_affiliations_remove"

	ToolTokensCreate Tool = "tokens_create"
	ToolTokensList   Tool = "tokens_list"
	ToolTokensRevoke Tool = "tokens_revoke"
)

// toolDef is one catalogue entry: the declared input schema travels verbatim
// in tools/list responses.
type toolDef struct {
	Name        Tool
	Description string
	InputSchema map[string]any
	// RequiresAuth marks mutation and token tools; read tools serve
	// anonymous callers with the redacted public projection.
	RequiresAuth bool
}

func catalogue() []toolDef {
	var defs []toolDef
	for _, kind := range directory.Kinds {
		plural := kind.Plural()
		defs = append(defs,
			toolDef{
				Name:        Tool(plural + "_list"),
				Description: fmt.Sprintf("List %s visible to the caller", plural),
				InputSchema: objectSchema(map[string]any{
					"limit":           map[string]any{"type": "integer", "maximum": directory.MaxListLimit},
					"offset":          map[string]any{"type": "integer"},
					"include_deleted": map[string]any{"type": "boolean", "description": "Admin only"},
				}),
			},
			toolDef{
				Name:        Tool(plural + "_get"),
				Description: fmt.Sprintf("Fetch one of %s by id or path", plural),
				InputSchema: objectSchema(map[string]any{
					"id":              map[string]any{"type": "integer"},
					"path":            map[string]any{"type": "string"},
					"include_deleted": map[string]any{"type": "boolean", "description": "Admin only"},
				}),
			},
			toolDef{
				Name:         Tool(plural + "_create"),
				Description:  fmt.Sprintf("Create one of %s; name is required", plural),
				InputSchema:  objectSchema(fieldProperties(kind), "name"),
				RequiresAuth: true,
			},
			toolDef{
				Name:         Tool(plural + "_update"),
				Description:  fmt.Sprintf("Patch one of %s under optimistic concurrency", plural),
				InputSchema:  objectSchema(refVersionProperties(map[string]any{"patch": map[string]any{"type": "object", "properties": fieldProperties(kind)}}), "expected_updated_at", "patch"),
				RequiresAuth: true,
			},
			toolDef{
				Name:         Tool(plural + "_delete"),
				Description:  fmt.Sprintf("Soft-delete one of %s", plural),
				InputSchema:  objectSchema(refVersionProperties(nil), "expected_updated_at"),
				RequiresAuth: true,
			},
			toolDef{
				Name:         Tool(plural + "_restore"),
				Description:  fmt.Sprintf("Restore a soft-deleted record of %s (admin only)", plural),
				InputSchema:  objectSchema(refVersionProperties(nil), "expected_updated_at"),
				RequiresAuth: true,
			},
		)
	}
	defs = append(defs,
		toolDef{
			Name:        ToolAffiliationsList,
			Description: "List a church's affiliation network ids",
			InputSchema: objectSchema(map[string]any{
				"id":   map[string]any{"type": "integer"},
				"path": map[string]any{"type": "string"},
			}),
		},
		toolDef{
			Name:        ToolAffiliationsSet,
			Description: "Replace the full affiliation list of a church",
			InputSchema: objectSchema(refVersionProperties(map[string]any{
				"affiliation_ids": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			}), "expected_updated_at", "affiliation_ids"),
			RequiresAuth: true,
		},
		toolDef{
			Name:        ToolAffiliationsAdd,
			Description: "Add one affiliation to a church; idempotent",
			InputSchema: objectSchema(refVersionProperties(map[string]any{
				"affiliation_id": map[string]any{"type": "integer"},
			}), "expected_updated_at", "affiliation_id"),
			RequiresAuth: true,
		},
		toolDef{
			Name:        ToolAffiliationsRemove,
			Description: "Remove one affiliation from a church; idempotent",
			InputSchema: objectSchema(refVersionProperties(map[string]any{
				"affiliation_id": map[string]any{"type": "integer"},
			}), "expected_updated_at", "affiliation_id"),
			RequiresAuth: true,
		},
		toolDef{
			Name:        ToolTokensCreate,
			Description: "Create a long-lived API token; the secret is shown once",
			InputSchema: objectSchema(map[string]any{
				"display_name": map[string]any{"type": "string"},
				"scope":        map[string]any{"type": "string"},
				"owner_id":     map[string]any{"type": "string", "description": "Admin only; defaults to the caller"},
			}, "display_name"),
			RequiresAuth: true,
		},
		toolDef{
			Name:        ToolTokensList,
			Description: "List API tokens owned by the caller (all tokens for admins)",
			InputSchema: objectSchema(map[string]any{
				"all": map[string]any{"type": "boolean", "description": "Admin only"},
			}),
			RequiresAuth: true,
		},
		toolDef{
			Name:        ToolTokensRevoke,
			Description: "Revoke an API token; terminal and idempotent",
			InputSchema: objectSchema(map[string]any{
				"token_id": map[string]any{"type": "string"},
			}, "token_id"),
			RequiresAuth: true,
		},
	)
	return defs
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func refVersionProperties(extra map[string]any) map[string]any {
	props := map[string]any{
		"id":   map[string]any{"type": "integer"},
		"path": map[string]any{"type": "string"},
		"expected_updated_at": map[string]any{
			"description": "Version stamp from the last read: epoch seconds, epoch millis or ISO-8601",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

func fieldProperties(kind directory.Kind) map[string]any {
	props := make(map[string]any)
	for _, field := range directory.MutableFields(kind) {
		switch field {
		case "county_id":
			props[field] = map[string]any{"type": "integer"}
		case "status":
			props[field] = map[string]any{"type": "string", "enum": []string{"Listed", "Assess", "Delisted"}}
		default:
			props[field] = map[string]any{"type": "string"}
		}
	}
	return props
}
