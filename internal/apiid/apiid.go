// Package apiid derives the canonical identifiers that join API elements,
// reference records and persisted documents.
package apiid

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/dshills/apisurface/pkg/types"
)

// ID builds <unit>.<surface>.<stage>.<name>, omitting stage when absent.
func ID(unit string, surface types.Surface, stage types.Stage, name string) string {
	parts := make([]string, 0, 4)
	parts = append(parts, unit, string(surface))
	if stage != types.StageNone {
		parts = append(parts, string(stage))
	}
	parts = append(parts, name)
	return strings.Join(parts, ".")
}

// Of computes the id of an element from its fields.
func Of(a *types.ApiElement) string {
	return ID(a.Unit, a.Surface, a.Stage, a.Name)
}

// Assign stamps the element's ID. It is the only place ids are written.
func Assign(a *types.ApiElement) string {
	a.ID = Of(a)
	return a.ID
}

// SurfaceForPath classifies a module path as public (browser) or server.
func SurfaceForPath(path string) types.Surface {
	if strings.Contains("/"+path, "/public/") {
		return types.SurfacePublic
	}
	return types.SurfaceServer
}

// RefKey builds the deduplication key for a usage of the element.
func RefKey(a *types.ApiElement, filePath string, line int) types.RefKey {
	return types.RefKey{APIID: Of(a), FilePath: filePath, Line: line}
}

// APIDocID is the persisted id of an API document. An empty commit yields the
// commit-agnostic id used by the latest mirror.
func APIDocID(commitHash string, apiID string) string {
	if commitHash == "" {
		return apiID
	}
	return apiID + "." + commitHash
}

// RefDocID is the persisted id of a reference document: the hex sha256 of
// the NUL-joined key, prefixed with the commit outside the latest mirror.
func RefDocID(commitHash string, key types.RefKey) string {
	sum := sha256.Sum256([]byte(key.APIID + "\x00" + key.FilePath + "\x00" + strconv.Itoa(key.Line)))
	id := hex.EncodeToString(sum[:])
	if commitHash == "" {
		return id
	}
	return commitHash + "." + id
}

// UnitDocID is the persisted id of a unit inventory document.
func UnitDocID(commitHash string, unit string) string {
	if commitHash == "" {
		return unit
	}
	return unit + "." + commitHash
}
