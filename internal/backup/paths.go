package backup

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// TenantPrefix is the object store prefix holding tenant exports.
	TenantPrefix = "tenants/"
	// FullPrefix starts the name of every full-instance dump.
	FullPrefix = "full-backup-"

	tenantPrefix = TenantPrefix + "tenant-"

	// stampLayout is ISO8601 with ':' replaced by '-'; the '.' before the
	// milliseconds becomes '-' as well, see Stamp.
	stampLayout = "2006-01-02T15-04-05.000Z"
	stampLen    = len(stampLayout)
	stampDot    = 19
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateTenantID rejects identifiers that cannot be embedded in a path.
func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("%w: invalid tenant id %q", ErrConfiguration, tenantID)
	}
	return nil
}

// Stamp formats t the way artifact names carry it.
func Stamp(t time.Time) string {
	b := []byte(t.UTC().Format(stampLayout))
	b[stampDot] = '-'
	return string(b)
}

func parseStamp(s string) (time.Time, error) {
	if len(s) != stampLen || s[stampDot] != '-' {
		return time.Time{}, fmt.Errorf("malformed stamp %q", s)
	}
	b := []byte(s)
	b[stampDot] = '.'
	return time.Parse(stampLayout, string(b))
}

// FullPath names a full-instance dump, e.g.
// "full-backup-2026-10-16T02-00-00-000Z.sql.gz".
func FullPath(t time.Time, ext string) string {
	return FullPrefix + Stamp(t) + ".sql" + ext
}

// TenantPath names a tenant export, e.g.
// "tenants/tenant-t1-2026-10-16T02-00-00-000Z.json.gz".
func TenantPath(tenantID string, t time.Time, ext string) string {
	return tenantPrefix + tenantID + "-" + Stamp(t) + ".json" + ext
}

// TenantListPrefix narrows a listing to one tenant's exports. The result
// may also match tenants whose id extends tenantID, so callers still
// check TenantOf.
func TenantListPrefix(tenantID string) string {
	return tenantPrefix + tenantID + "-"
}

// IsFullPath reports whether path names a full-instance dump.
func IsFullPath(path string) bool {
	_, ok := parseFull(path)
	return ok
}

// TenantOf returns the tenant a path is tagged with. ok is false for full
// dumps and for anything that does not follow the naming convention.
func TenantOf(path string) (tenantID string, ok bool) {
	tenantID, _, ok = parseTenant(path)
	return tenantID, ok
}

// Describe parses path into a Summary. ok is false for foreign objects.
func Describe(path string, size int64) (Summary, bool) {
	if at, ok := parseFull(path); ok {
		return Summary{Path: path, Scope: ScopeFull, SizeBytes: size, CreatedAt: at}, true
	}
	if tenantID, at, ok := parseTenant(path); ok {
		return Summary{Path: path, Scope: ScopeTenant, TenantID: tenantID, SizeBytes: size, CreatedAt: at}, true
	}
	return Summary{}, false
}

func parseFull(path string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(path, FullPrefix)
	if !ok || strings.Contains(rest, "/") {
		return time.Time{}, false
	}
	stem, ok := cutExtension(rest, ".sql")
	if !ok {
		return time.Time{}, false
	}
	at, err := parseStamp(stem)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

func parseTenant(path string) (string, time.Time, bool) {
	rest, ok := strings.CutPrefix(path, tenantPrefix)
	if !ok || strings.Contains(rest, "/") {
		return "", time.Time{}, false
	}
	stem, ok := cutExtension(rest, ".json")
	if !ok || len(stem) < stampLen+2 {
		return "", time.Time{}, false
	}
	cut := len(stem) - stampLen
	if stem[cut-1] != '-' {
		return "", time.Time{}, false
	}
	at, err := parseStamp(stem[cut:])
	if err != nil {
		return "", time.Time{}, false
	}
	tenantID := stem[:cut-1]
	if ValidateTenantID(tenantID) != nil {
		return "", time.Time{}, false
	}
	return tenantID, at, true
}

// cutExtension strips kind+compression (".sql.gz", ".json.zst", ...).
func cutExtension(name, kind string) (string, bool) {
	for _, ext := range []string{".gz", ".zst"} {
		if stem, ok := strings.CutSuffix(name, kind+ext); ok {
			return stem, true
		}
	}
	return "", false
}
