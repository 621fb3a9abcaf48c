package sandbox

import (
	"fmt"
	"sort"
	"sync"

	"github.com/traefik/yaegi/interp"
)

// =============================================================================
// PACKAGE CATALOG
// =============================================================================
// The catalog is the sandbox-side package index. The standard library subset
// is always importable; everything else must be registered by the host (with
// its yaegi symbol exports) and then enabled, which is what "installing a
// dependency" means here. Candidates never reach the network toolchain.

// stdlibAllowed is the standard-library import surface candidates may use.
// Process control, raw sockets, and unsafe access stay out.
var stdlibAllowed = map[string]bool{
	"bytes":           true,
	"crypto/md5":      true,
	"crypto/sha1":     true,
	"crypto/sha256":   true,
	"encoding/base64": true,
	"encoding/csv":    true,
	"encoding/hex":    true,
	"encoding/json":   true,
	"encoding/xml":    true,
	"errors":          true,
	"fmt":             true,
	"hash/fnv":        true,
	"html":            true,
	"io":              true,
	"math":            true,
	"math/rand":       true,
	"mime":            true,
	"net/http":        true,
	"net/url":         true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,

	// EXPLICITLY BLOCKED:
	// "os", "os/exec" - process and filesystem control
	// "net" - raw sockets
	// "syscall", "unsafe", "plugin", "runtime" - host escape hatches
}

// Catalog tracks which non-stdlib packages are registered and enabled.
type Catalog struct {
	mu         sync.RWMutex
	registered map[string]interp.Exports // canonical path -> yaegi symbols
	enabled    map[string]bool
}

// NewCatalog returns an empty catalog (stdlib subset only).
func NewCatalog() *Catalog {
	return &Catalog{
		registered: make(map[string]interp.Exports),
		enabled:    make(map[string]bool),
	}
}

// Register makes a package installable by providing its symbol exports.
// Registration alone does not make it importable; Enable does.
func (c *Catalog) Register(path string, exports interp.Exports) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered[path] = exports
}

// Enable marks a registered package as importable by candidates.
// Returns an error for packages the host never registered.
func (c *Catalog) Enable(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.registered[path]; !ok {
		return fmt.Errorf("package %s is not registered in the sandbox catalog", path)
	}
	c.enabled[path] = true
	return nil
}

// Enabled reports whether path is currently importable as an extra.
func (c *Catalog) Enabled(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled[path]
}

// Importable reports whether candidates may import path at all.
func (c *Catalog) Importable(path string) bool {
	if stdlibAllowed[path] {
		return true
	}
	return c.Enabled(path)
}

// Registered lists every package the host has made installable.
func (c *Catalog) Registered() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.registered))
	for path := range c.registered {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// enabledExports snapshots the symbol tables of all enabled packages.
func (c *Catalog) enabledExports() []interp.Exports {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]interp.Exports, 0, len(c.enabled))
	for path := range c.enabled {
		if exp, ok := c.registered[path]; ok {
			out = append(out, exp)
		}
	}
	return out
}
