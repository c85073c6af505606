package rpc

import (
	"strings"
	"testing"
)

func TestCatalogueShape(t *testing.T) {
	defs := catalogue()
	if len(defs) != 25 {
		t.Fatalf("catalogue has %d tools, want 25", len(defs))
	}
	seen := make(map[Tool]bool)
	for _, def := range defs {
		if seen[def.Name] {
			t.Fatalf("duplicate tool %q", def.Name)
		}
		seen[def.Name] = true
		if def.Description == "" {
			t.Fatalf("tool %q has no description", def.Name)
		}
		if def.InputSchema["type"] != "object" {
			t.Fatalf("tool %q schema is not an object", def.Name)
		}
	}
}

func TestCatalogueAuthGate(t *testing.T) {
	readSuffixes := []string{"_list", "_get"}
	for _, def := range catalogue() {
		name := string(def.Name)
		isRead := false
		for _, suffix := range readSuffixes {
			if strings.HasSuffix(name, suffix) {
				isRead = true
			}
		}
		// Token tools are gated even for listing: credentials are never
		// public.
		if strings.HasPrefix(name, "tokens_") {
			isRead = false
		}
		if isRead && def.RequiresAuth {
			t.Fatalf("read tool %q requires auth", name)
		}
		if !isRead && !def.RequiresAuth {
			t.Fatalf("mutation tool %q is not gated", name)
		}
	}
}
