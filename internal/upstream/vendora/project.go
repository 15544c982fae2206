package vendora

import (
	"strings"

	"github.com/google/uuid"
)

// IsInvalidProjectID matches server.rs's is_invalid_project_id: a project id
// is unusable if empty, the bare "projects" placeholder, or ends in a
// trailing "projects/" segment.
func IsInvalidProjectID(projectID string) bool {
	raw := strings.TrimSpace(projectID)
	return raw == "" || raw == "projects" || raw == "projects/" || strings.HasSuffix(raw, "projects/")
}

// FallbackProjectID synthesizes a project id when no real one can be
// resolved, matching server.rs's generate_fallback_project_id. The original
// first calls a quota-introspection endpoint (quota::fetch_project_id_for_token)
// that is not part of this retrieval pack; this gateway always falls back
// directly to the synthesized id, recorded in DESIGN.md's internal/gateway
// entry.
func FallbackProjectID() string {
	return "projects/random-" + strings.ReplaceAll(uuid.NewString(), "-", "") + "/locations/global"
}
