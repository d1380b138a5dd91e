package storagepath

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/docsync/internal/common"
)

const (
	DefaultPrefix    = "users"
	documentsSegment = "documents"
	maxFileNameLen   = 128
)

var (
	segmentRe    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]*$`)
	unsafeCharRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Key is a parsed attachment key.
type Key struct {
	Prefix        string
	StableID      string
	SyncID        string
	Disambiguator int64
	FileName      string
}

// Generator produces attachment keys under a fixed prefix.
type Generator struct {
	prefix string

	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func New(prefix string) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{prefix: strings.Trim(prefix, "/"), now: time.Now}
}

func (g *Generator) Prefix() string { return g.prefix }

// Generate returns the key for an attachment. It fails with
// common.ErrPathGeneration when an identifier is missing or unusable.
func (g *Generator) Generate(stableID, syncID, fileName string, disambiguator int64) (string, error) {
	if stableID == "" {
		return "", fmt.Errorf("%w: stable id is empty", common.ErrPathGeneration)
	}
	if !segmentRe.MatchString(stableID) {
		return "", fmt.Errorf("%w: stable id %q is not a valid path segment", common.ErrPathGeneration, stableID)
	}
	if syncID == "" || !segmentRe.MatchString(syncID) {
		return "", fmt.Errorf("%w: invalid sync id %q", common.ErrPathGeneration, syncID)
	}
	if disambiguator < 0 {
		return "", fmt.Errorf("%w: negative disambiguator", common.ErrPathGeneration)
	}

	name := SanitizeFileName(fileName)
	return path.Join(g.prefix, stableID, documentsSegment, syncID, fmt.Sprintf("%d-%s", disambiguator, name)), nil
}

// NextDisambiguator returns a unix-millisecond value strictly greater than
// any value it returned before.
func (g *Generator) NextDisambiguator() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := g.now().UnixMilli()
	if v <= g.last {
		v = g.last + 1
	}
	g.last = v
	return v
}

// Parse splits a key produced by Generate.
func (g *Generator) Parse(key string) (Key, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 || parts[0] != g.prefix || parts[2] != documentsSegment {
		return Key{}, fmt.Errorf("%w: malformed key %q", common.ErrPathGeneration, key)
	}
	if !segmentRe.MatchString(parts[1]) || !segmentRe.MatchString(parts[3]) {
		return Key{}, fmt.Errorf("%w: malformed key %q", common.ErrPathGeneration, key)
	}

	d, name, ok := strings.Cut(parts[4], "-")
	if !ok || name == "" {
		return Key{}, fmt.Errorf("%w: missing disambiguator in %q", common.ErrPathGeneration, key)
	}
	n, err := strconv.ParseInt(d, 10, 64)
	if err != nil || n < 0 {
		return Key{}, fmt.Errorf("%w: bad disambiguator in %q", common.ErrPathGeneration, key)
	}
	if name != SanitizeFileName(name) {
		return Key{}, fmt.Errorf("%w: unsafe file name in %q", common.ErrPathGeneration, key)
	}

	return Key{Prefix: parts[0], StableID: parts[1], SyncID: parts[3], Disambiguator: n, FileName: name}, nil
}

// Validate reports whether key is well formed and lives under stableID.
func (g *Generator) Validate(key, stableID string) bool {
	k, err := g.Parse(key)
	return err == nil && stableID != "" && k.StableID == stableID
}

// GenerateLegacy rebuilds the key an older client would have used.
func GenerateLegacy(displayName, syncID, fileName string) (string, error) {
	if displayName == "" {
		return "", fmt.Errorf("%w: display name is empty", common.ErrPathGeneration)
	}
	return path.Join(documentsSegment, legacySegment(displayName), syncID, SanitizeFileName(fileName)), nil
}

// IsLegacy reports whether key has the old display-name layout and belongs
// to displayName.
func IsLegacy(key, displayName string) bool {
	parts := strings.Split(key, "/")
	return len(parts) == 4 && parts[0] == documentsSegment && displayName != "" && parts[1] == legacySegment(displayName)
}

func legacySegment(displayName string) string {
	return strings.ToLower(unsafeCharRe.ReplaceAllString(strings.TrimSpace(displayName), "_"))
}

// SanitizeFileName drops directory components and replaces characters that
// are unsafe in object keys. The extension survives truncation.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = unsafeCharRe.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	if name == "" || name == "/" {
		return "file"
	}

	if len(name) > maxFileNameLen {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxFileNameLen-len(ext)] + ext
	}
	return name
}
