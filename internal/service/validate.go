package service

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// STATIC VALIDATION
// =============================================================================
// Candidate code is checked before it ever reaches the sandbox. Failures here
// are activation defects with a precise message, which gives the repair loop
// far better evidence than a raw interpreter error.

// HandlerName is the entry point every candidate must define.
const HandlerName = "Handler"

// ValidationReport lists every problem found in a candidate's code.
type ValidationReport struct {
	Valid    bool
	Problems []string
}

// envLookupPattern rejects environment-variable access. Generated services
// must be self-contained: secrets and endpoints live in the code itself.
var envLookupPattern = regexp.MustCompile(`\bos\.(Getenv|LookupEnv|Environ)\s*\(`)

// Validate statically checks a spec's code: it must parse, define Handler
// with the params-in/payload-out shape, import only packages in allowed, and
// avoid environment lookups. allowed is the union of the sandbox stdlib
// whitelist and the spec's declared dependencies; a nil allowed skips the
// import check.
func Validate(spec *Spec, allowed func(path string) bool) ValidationReport {
	var problems []string

	code := spec.Code
	if strings.TrimSpace(code) == "" {
		return ValidationReport{Problems: []string{"code is empty"}}
	}
	if !strings.Contains(code, "package ") {
		code = "package main\n\n" + code
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, spec.Name+".go", code, 0)
	if err != nil {
		return ValidationReport{Problems: []string{fmt.Sprintf("code does not parse: %v", err)}}
	}

	seen := make(map[string]bool, len(spec.Params))
	for _, p := range spec.Params {
		if seen[p.Name] {
			problems = append(problems, fmt.Sprintf("parameter %q is declared more than once", p.Name))
		}
		seen[p.Name] = true
	}

	if allowed != nil {
		for _, imp := range file.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				continue
			}
			if !allowed(path) {
				problems = append(problems, fmt.Sprintf("import %q is not available to the sandbox", path))
			}
		}
	}

	handler := findHandler(file)
	if handler == nil {
		problems = append(problems, fmt.Sprintf("code does not define func %s", HandlerName))
	} else if !handlerShapeOK(handler) {
		problems = append(problems,
			fmt.Sprintf("%s must have signature func(map[string]any) (map[string]any, error)", HandlerName))
	}

	if loc := envLookupPattern.FindString(code); loc != "" {
		problems = append(problems, fmt.Sprintf("environment lookup %q is forbidden, inline the value instead", strings.TrimSuffix(loc, "(")))
	}

	return ValidationReport{Valid: len(problems) == 0, Problems: problems}
}

func findHandler(file *ast.File) *ast.FuncDecl {
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if ok && fn.Recv == nil && fn.Name.Name == HandlerName {
			return fn
		}
	}
	return nil
}

// handlerShapeOK checks arity only; exact types are enforced by the sandbox
// at lookup time, where the interpreter gives the authoritative answer.
func handlerShapeOK(fn *ast.FuncDecl) bool {
	if fn.Type.Params == nil || len(fn.Type.Params.List) != 1 {
		return false
	}
	if fn.Type.Results == nil || len(fn.Type.Results.List) != 2 {
		return false
	}
	return true
}
