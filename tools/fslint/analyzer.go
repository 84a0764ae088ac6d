// Package fslint reports direct filesystem calls in packages that are meant
// to go through an injected afero.Fs.
package fslint

import (
	"fmt"
	"go/ast"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/tools/go/analysis"
)

var configFile string

// Config is read from the file given with -config.
type Config struct {
	ScanDirs        []string `toml:"scan_dirs"`
	AllowedPackages []string `toml:"allowed_packages"`
	// SkipTests leaves _test.go files alone; tests may prepare fixtures on
	// the host.
	SkipTests bool `toml:"skip_tests"`
	// ForbiddenCalls maps an import path to function names. When empty,
	// DefaultForbiddenCalls is used.
	ForbiddenCalls map[string][]string `toml:"forbidden_calls"`
}

// DefaultForbiddenCalls are the calls afero.Fs has a replacement for.
var DefaultForbiddenCalls = map[string][]string{
	"os": {
		"Chtimes", "Create", "CreateTemp", "Lstat", "Mkdir", "MkdirAll", "MkdirTemp", "Open",
		"OpenFile", "ReadDir", "ReadFile", "Remove", "RemoveAll", "Rename",
		"Stat", "WriteFile",
	},
	"io/ioutil":     {"ReadDir", "ReadFile", "TempFile", "WriteFile"},
	"path/filepath": {"Glob", "Walk", "WalkDir"},
}

// Analyzer is the fslint analyzer.
var Analyzer = &analysis.Analyzer{
	Name: "fslint",
	Doc:  "reports direct filesystem calls in packages that should use an injected afero.Fs",
	Run:  run,
}

func init() {
	Analyzer.Flags.StringVar(&configFile, "config", "", "path to fslint config file (required)")
}

func loadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required (use -config flag)")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(cfg.ForbiddenCalls) == 0 {
		cfg.ForbiddenCalls = DefaultForbiddenCalls
	}
	return &cfg, nil
}

// forbiddenSet indexes cfg.ForbiddenCalls by import path then function.
func forbiddenSet(calls map[string][]string) map[string]map[string]bool {
	set := make(map[string]map[string]bool, len(calls))
	for pkg, funcs := range calls {
		set[pkg] = make(map[string]bool, len(funcs))
		for _, fn := range funcs {
			set[pkg][fn] = true
		}
	}
	return set
}

func run(pass *analysis.Pass) (interface{}, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	pkgPath := pass.Pkg.Path()
	if !shouldScanPackage(pkgPath, cfg.ScanDirs) || isAllowedPackage(pkgPath, cfg.AllowedPackages) {
		return nil, nil
	}

	forbidden := forbiddenSet(cfg.ForbiddenCalls)
	for _, file := range pass.Files {
		if cfg.SkipTests && strings.HasSuffix(pass.Fset.Position(file.Pos()).Filename, "_test.go") {
			continue
		}
		for _, v := range findViolations(file, forbidden) {
			pass.Reportf(v.call.Pos(), "direct filesystem call %s bypasses afero (use the injected afero.Fs)", v.name)
		}
	}
	return nil, nil
}

type violation struct {
	call *ast.CallExpr
	name string
}

// findViolations returns every call in file to a forbidden function.
func findViolations(file *ast.File, forbidden map[string]map[string]bool) []violation {
	imports := buildImportMap(file)

	var found []violation
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		ident, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		importPath, ok := imports[ident.Name]
		if !ok {
			return true
		}
		if forbidden[importPath][sel.Sel.Name] {
			found = append(found, violation{call: call, name: ident.Name + "." + sel.Sel.Name})
		}
		return true
	})
	return found
}

// shouldScanPackage reports whether pkgPath lies under one of scanDirs.
func shouldScanPackage(pkgPath string, scanDirs []string) bool {
	for _, dir := range scanDirs {
		if strings.Contains(pkgPath, "/"+dir) || strings.HasPrefix(pkgPath, dir) {
			return true
		}
	}
	return false
}

func isAllowedPackage(pkgPath string, allowedPackages []string) bool {
	for _, allowed := range allowedPackages {
		if matchesPackagePath(pkgPath, allowed) {
			return true
		}
	}
	return false
}

// matchesPackagePath reports whether pkgPath is pattern or one of its
// subpackages, e.g. "internal/util" matches ".../internal/util/sub".
func matchesPackagePath(pkgPath, pattern string) bool {
	return strings.HasSuffix(pkgPath, "/"+pattern) ||
		strings.Contains(pkgPath, "/"+pattern+"/") ||
		pkgPath == pattern ||
		strings.HasPrefix(pkgPath, pattern+"/")
}

// buildImportMap maps each import's local name to its path. Blank and dot
// imports cannot be the receiver of a selector and are left out.
func buildImportMap(file *ast.File) map[string]string {
	imports := make(map[string]string)
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		name := path[strings.LastIndex(path, "/")+1:]
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if name == "_" || name == "." {
			continue
		}
		imports[name] = path
	}
	return imports
}
