package admission

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	admissionv1 "k8s.io/api/admission/v1"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/sse-secure-systems/connaisseur/pkg/policy"
	"github.com/sse-secure-systems/connaisseur/pkg/validator"
)

func newTestHandler(t *testing.T, rules []policy.Rule, specs []validator.Spec, detectionMode bool) *Handler {
	t.Helper()
	pol, err := policy.Compile(policy.File{Rules: rules})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := validator.NewRegistry(specs, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Handler{Registry: reg, Policy: pol, DetectionMode: detectionMode}
}

func TestHandleAllowsAndEmitsNoPatchOnApprove(t *testing.T) {
	h := newTestHandler(t,
		[]policy.Rule{{Pattern: "**"}},
		[]validator.Spec{{Name: "default", Type: "static", Approve: true}},
		false,
	)
	review := admissionv1.AdmissionReview{Request: &admissionv1.AdmissionRequest{
		UID:       "req-1",
		Namespace: "default",
		Object: runtime.RawExtension{Raw: []byte(`{
			"kind": "Pod", "apiVersion": "v1", "metadata": {"name": "alice"},
			"spec": {"containers": [{"image": "alice-image:test"}]}
		}`)},
	}}

	out := h.Handle(context.Background(), review)
	if out.Response == nil || !out.Response.Allowed {
		t.Fatalf("expected allowed response, got %+v", out.Response)
	}
	if out.Response.Patch != nil {
		t.Fatalf("expected no patch for a static approve, got %s", out.Response.Patch)
	}
}

func TestHandleDeniesOnDenyRule(t *testing.T) {
	deny := false
	h := newTestHandler(t,
		[]policy.Rule{{Pattern: "**", Verify: &deny}},
		nil,
		false,
	)
	review := admissionv1.AdmissionReview{Request: &admissionv1.AdmissionRequest{
		UID:       "req-2",
		Namespace: "default",
		Object: runtime.RawExtension{Raw: []byte(`{
			"kind": "Pod", "apiVersion": "v1", "metadata": {"name": "alice"},
			"spec": {"containers": [{"image": "alice-image:test"}]}
		}`)},
	}}

	out := h.Handle(context.Background(), review)
	if out.Response == nil || out.Response.Allowed {
		t.Fatalf("expected denied response, got %+v", out.Response)
	}
}

func TestHandleDetectionModeAllowsWithWarning(t *testing.T) {
	deny := false
	h := newTestHandler(t,
		[]policy.Rule{{Pattern: "**", Verify: &deny}},
		nil,
		true,
	)
	review := admissionv1.AdmissionReview{Request: &admissionv1.AdmissionRequest{
		UID:       "req-3",
		Namespace: "default",
		Object: runtime.RawExtension{Raw: []byte(`{
			"kind": "Pod", "apiVersion": "v1", "metadata": {"name": "alice"},
			"spec": {"containers": [{"image": "alice-image:test"}]}
		}`)},
	}}

	out := h.Handle(context.Background(), review)
	if out.Response == nil || !out.Response.Allowed {
		t.Fatalf("expected detection mode to still allow, got %+v", out.Response)
	}
	if len(out.Response.Warnings) == 0 {
		t.Fatal("expected a warning explaining the failure")
	}
}

func TestHandleMissingRequestIsDenied(t *testing.T) {
	h := &Handler{Policy: nil}
	out := h.Handle(context.Background(), admissionv1.AdmissionReview{})
	if out.Response == nil || out.Response.Allowed {
		t.Fatalf("expected a denial when the request is missing, got %+v", out.Response)
	}
}

func TestHandleNoMatchingRuleIsDenied(t *testing.T) {
	h := newTestHandler(t,
		[]policy.Rule{{Pattern: "docker.io/library/*"}},
		[]validator.Spec{{Name: "default", Type: "static", Approve: true}},
		false,
	)
	review := admissionv1.AdmissionReview{Request: &admissionv1.AdmissionRequest{
		UID:       "req-4",
		Namespace: "default",
		Object: runtime.RawExtension{Raw: []byte(`{
			"kind": "Pod", "apiVersion": "v1", "metadata": {"name": "alice"},
			"spec": {"containers": [{"image": "quay.io/other/image:test"}]}
		}`)},
	}}

	out := h.Handle(context.Background(), review)
	if out.Response == nil || out.Response.Allowed {
		t.Fatalf("expected a denial for an image with no matching rule, got %+v", out.Response)
	}
}

func TestHandlePatchIsBase64JSONPatch(t *testing.T) {
	ops := []PatchOp{{Op: "replace", Path: "/spec/containers/0/image", Value: "alice-image:test@sha256:abc"}}
	patchType, patch, err := EncodePatch(ops)
	if err != nil {
		t.Fatal(err)
	}
	if patchType != "JSONPatch" {
		t.Fatalf("unexpected patch type: %s", patchType)
	}
	raw, err := base64.StdEncoding.DecodeString(patch)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []PatchOp
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 || decoded[0].Path != ops[0].Path {
		t.Fatalf("unexpected decoded patch: %+v", decoded)
	}
}
