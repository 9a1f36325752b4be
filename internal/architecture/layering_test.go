package architecture_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const modulesPrefix = "dwell/internal/modules/"

// moduleDeps lists, per module, which other modules it may reach and
// through which layers. activity and session run on the client and know
// nothing of the ledger or the syncer; the ledger shares only their value
// types; the syncer speaks to the ledger through its wire dto.
var moduleDeps = map[string]map[string][]string{
	"activity": {},
	"session":  {},
	"ledger": {
		"activity": {"domain"},
		"session":  {"domain"},
	},
	"syncer": {
		"activity": {"domain", "dto", "port/in"},
		"session":  {"domain", "port/in"},
		"ledger":   {"dto"},
	},
}

type importEdge struct {
	file   string
	module string
	layer  string
	target string
}

func collectEdges(t *testing.T) []importEdge {
	t.Helper()
	fset := token.NewFileSet()
	root := filepath.Join("..", "modules")
	var edges []importEdge
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		slash := filepath.ToSlash(path)
		module := moduleName(slash)
		layer := detectLayer(slash)
		if module == "" || layer == "" {
			return nil
		}
		node, parseErr := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if parseErr != nil {
			return parseErr
		}
		for _, imp := range node.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			if strings.Contains(importPath, modulesPrefix) {
				edges = append(edges, importEdge{file: slash, module: module, layer: layer, target: importPath})
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk modules: %v", err)
	}
	if len(edges) == 0 {
		t.Fatalf("no module imports found under %s", root)
	}
	return edges
}

func TestHexagonalLayerImports(t *testing.T) {
	t.Parallel()
	for _, e := range collectEdges(t) {
		if violatesLayerRule(e.module, e.layer, e.target) {
			t.Errorf("forbidden import in %s (%s): %s", e.file, e.layer, e.target)
		}
	}
}

func TestModuleDependencyDirection(t *testing.T) {
	t.Parallel()
	for _, e := range collectEdges(t) {
		if violatesModuleRule(e.module, e.layer, e.target) {
			t.Errorf("%s may not reach %s from %s", e.module, e.target, e.file)
		}
	}
}

func TestModuleRuleCases(t *testing.T) {
	t.Parallel()
	cases := []struct {
		module, layer, target string
		forbidden             bool
	}{
		{"syncer", "service", modulesPrefix + "ledger/dto", false},
		{"syncer", "service", modulesPrefix + "ledger/service", true},
		{"syncer", "adapter/out", modulesPrefix + "ledger/domain", true},
		{"syncer", "service", modulesPrefix + "session/port/in", false},
		{"ledger", "service", modulesPrefix + "activity/domain", false},
		{"ledger", "service", modulesPrefix + "activity/port/in", true},
		{"ledger", "usecase", modulesPrefix + "syncer/domain", true},
		{"activity", "service", modulesPrefix + "ledger/dto", true},
		{"session", "adapter/out", modulesPrefix + "syncer/port/out", true},
		{"activity", "domain", modulesPrefix + "activity/port/in", true},
		{"syncer", "domain", modulesPrefix + "activity/domain", false},
		{"syncer", "domain", modulesPrefix + "activity/dto", true},
		{"activity", "usecase", modulesPrefix + "activity/service", false},
	}
	for _, tc := range cases {
		if got := violatesModuleRule(tc.module, tc.layer, tc.target); got != tc.forbidden {
			t.Errorf("%s/%s -> %s: forbidden=%v, want %v", tc.module, tc.layer, tc.target, got, tc.forbidden)
		}
	}
}

func moduleName(path string) string {
	parts := strings.Split(path, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "modules" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func detectLayer(path string) string {
	for _, layer := range []string{"adapter/in", "adapter/out", "usecase", "service", "domain", "port/in", "port/out", "dto"} {
		if strings.Contains(path, "/"+layer+"/") {
			return layer
		}
	}
	return ""
}

// splitTarget turns dwell/internal/modules/<m>/<layer>/... into (m, layer).
func splitTarget(importPath string) (string, string) {
	rest := importPath[strings.Index(importPath, modulesPrefix)+len(modulesPrefix):]
	module, tail, _ := strings.Cut(rest, "/")
	return module, detectLayer("/" + tail + "/")
}

func isPortIn(path string) bool {
	return strings.Contains(path, "/port/in/") || strings.HasSuffix(path, "/port/in")
}

func isDTO(path string) bool {
	return strings.Contains(path, "/dto/") || strings.HasSuffix(path, "/dto")
}

func violatesModuleRule(module, layer, importPath string) bool {
	target, targetLayer := splitTarget(importPath)
	if target == module {
		return false
	}
	// A domain package stays pure: other modules' value types only.
	if layer == "domain" && targetLayer != "domain" {
		return true
	}
	for _, allowed := range moduleDeps[module][target] {
		if allowed == targetLayer {
			return false
		}
	}
	return true
}

func violatesLayerRule(module, layer, importPath string) bool {
	sameModule := strings.Contains(importPath, "/internal/modules/"+module+"/")
	if !sameModule {
		if strings.Contains(importPath, "/service/") || strings.Contains(importPath, "/adapter/") || strings.Contains(importPath, "/usecase/") {
			return true
		}
		if isPortIn(importPath) || isDTO(importPath) {
			return false
		}
	}

	switch layer {
	case "adapter/in":
		return !isPortIn(importPath) && !isDTO(importPath)
	case "usecase":
		return strings.Contains(importPath, "/adapter/")
	case "service":
		return strings.Contains(importPath, "/adapter/") || strings.Contains(importPath, "/usecase/")
	case "domain":
		return strings.Contains(importPath, "/adapter/") || strings.Contains(importPath, "/usecase/") || strings.Contains(importPath, "/service/")
	default:
		return false
	}
}
