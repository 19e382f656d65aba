package admission

import (
	"encoding/base64"
	"encoding/json"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
)

// PatchOp is one RFC 6902 JSON Patch operation, grounded on
// original_source/connaisseur/workload_object.py's get_json_patch and
// util.py's get_admission_review patch assembly.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// EncodePatch JSON-marshals ops and base64-wraps the result, as
// util.py's get_admission_review does for the "patch" response field.
// Returns ("", "", nil) for an empty patch, signaling no "patch"/
// "patchType" fields should be set.
func EncodePatch(ops []PatchOp) (patchType, patch string, err error) {
	if len(ops) == 0 {
		return "", "", nil
	}
	b, err := json.Marshal(ops)
	if err != nil {
		return "", "", apperr.Wrap(apperr.InvalidFormat, err, "encoding json patch")
	}
	return "JSONPatch", base64.StdEncoding.EncodeToString(b), nil
}
