// Package deps turns missing-import activation failures into installable
// package names and drives the sandbox-side install.
package deps

import (
	"context"
	"regexp"
	"strings"

	"svcforge/internal/logging"
	"svcforge/internal/sandbox"
)

// aliasTable maps the short names candidates tend to import (or oracles tend
// to invent) to canonical module paths. Unknown names pass through unchanged.
var aliasTable = map[string]string{
	"yaml":      "gopkg.in/yaml.v3",
	"uuid":      "github.com/google/uuid",
	"goquery":   "github.com/PuerkitoBio/goquery",
	"resty":     "github.com/go-resty/resty/v2",
	"websocket": "github.com/gorilla/websocket",
	"decimal":   "github.com/shopspring/decimal",
	"cron":      "github.com/robfig/cron/v3",
	"redis":     "github.com/redis/go-redis/v9",
	"pgx":       "github.com/jackc/pgx/v5",
	"mysql":     "github.com/go-sql-driver/mysql",
	"sqlite3":   "github.com/mattn/go-sqlite3",
	"chart":     "github.com/wcharczuk/go-chart/v2",
	"excelize":  "github.com/xuri/excelize/v2",
}

// missingImportPatterns recognize a missing package in activation failures,
// whichever layer reported it (static validator or interpreter).
var missingImportPatterns = []*regexp.Regexp{
	regexp.MustCompile(`import "([^"]+)" is not available to the sandbox`),
	regexp.MustCompile(`unable to find source related to: "([^"]+)"`),
	regexp.MustCompile(`import "([^"]+)" error`),
	regexp.MustCompile(`package ([^\s"]+) is not registered`),
}

// Resolve maps an import-level name to its canonical installable path.
func Resolve(name string) string {
	if canonical, ok := aliasTable[name]; ok {
		return canonical
	}
	// Last path element is often the alias the oracle had in mind.
	if idx := strings.LastIndex(name, "/"); idx < 0 {
		if canonical, ok := aliasTable[strings.ToLower(name)]; ok {
			return canonical
		}
	}
	return name
}

// Missing extracts the unresolvable import from an activation failure.
// The second return is false when the outcome is not a missing-import case.
func Missing(out sandbox.Outcome) (string, bool) {
	if out.Kind != sandbox.OutcomeActivationError {
		return "", false
	}
	for _, pat := range missingImportPatterns {
		if m := pat.FindStringSubmatch(out.Message); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// Installer makes a package available to the sandbox.
type Installer interface {
	Install(ctx context.Context, pkg string) error
}

// CatalogInstaller installs by enabling the package in the sandbox catalog.
// There is no network fetch: only packages the host registered symbol tables
// for can ever be enabled.
type CatalogInstaller struct {
	Catalog *sandbox.Catalog
}

// Install enables pkg in the catalog.
func (ci *CatalogInstaller) Install(ctx context.Context, pkg string) error {
	if err := ci.Catalog.Enable(pkg); err != nil {
		logging.DepsWarn("install failed for %s: %v", pkg, err)
		return err
	}
	logging.Deps("installed %s into sandbox catalog", pkg)
	return nil
}
