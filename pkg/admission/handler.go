// Package admission implements the admission handler (C12): the
// end-to-end orchestration from a raw AdmissionReview request to a
// patched or denied response, grounded on
// original_source/connaisseur/admission_request.py and
// original_source/connaisseur/util.py's get_admission_review.
package admission

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/image"
	"github.com/sse-secure-systems/connaisseur/pkg/logging"
	"github.com/sse-secure-systems/connaisseur/pkg/policy"
	"github.com/sse-secure-systems/connaisseur/pkg/validator"
	"github.com/sse-secure-systems/connaisseur/pkg/workload"
)

// Handler wires the registry, policy and workload traversal into the
// per-request admission decision.
type Handler struct {
	Registry      *validator.Registry
	Policy        *policy.Policy
	ParentFetcher *workload.ParentFetcher
	DetectionMode bool
}

// Handle produces the AdmissionReview response for req, never
// returning an error: every failure is folded into an
// allowed=false/true-with-warning response, per spec.md section 4.12
// and flask_server.py's mutate() error handling.
func (h *Handler) Handle(ctx context.Context, review admissionv1.AdmissionReview) admissionv1.AdmissionReview {
	req := review.Request
	if req == nil {
		return deny(review, "", "missing admission request", h.DetectionMode)
	}

	resp, err := h.process(ctx, req)
	if err != nil {
		logging.FromContext(ctx).Errorw("admission request denied", "uid", req.UID, "err", err)
		return deny(review, string(req.UID), userMessage(err), h.DetectionMode)
	}
	review.Response = resp
	return review
}

func (h *Handler) process(ctx context.Context, req *admissionv1.AdmissionRequest) (*admissionv1.AdmissionResponse, error) {
	obj, err := workload.Parse(req.Object.Raw, req.Namespace)
	if err != nil {
		return nil, err
	}

	if len(obj.OwnerReferences()) > 0 && h.ParentFetcher != nil {
		if err := h.ParentFetcher.ResolveContainers(ctx, obj); err != nil {
			return nil, err
		}
	}

	var ops []PatchOp
	var failures *multierror.Error

	for _, c := range obj.Containers() {
		img, err := image.Parse(c.Image)
		if err != nil {
			failures = multierror.Append(failures, err)
			continue
		}

		rule, ok := h.Policy.Match(img.String())
		if !ok {
			failures = multierror.Append(failures, apperr.New(apperr.NotFound, "no policy rule matches image %s", img))
			continue
		}

		digest, err := h.resolveDigest(ctx, img, rule)
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", img, err))
			continue
		}
		if digest == "" {
			continue
		}
		ops = append(ops, PatchOp{Op: "replace", Path: obj.PatchPath(c), Value: c.Image + "@sha256:" + digest})
	}

	allowed := failures == nil || len(failures.Errors) == 0
	var warnings []string
	var message string
	if !allowed {
		message = userMessage(failures)
		if h.DetectionMode {
			warnings = []string{message}
		}
	}

	patchType, patch, err := EncodePatch(ops)
	if err != nil {
		return nil, err
	}

	finalAllowed := allowed || h.DetectionMode
	resp := &admissionv1.AdmissionResponse{
		UID:     req.UID,
		Allowed: finalAllowed,
		Result:  &metav1.Status{Code: statusCode(finalAllowed)},
	}
	if message != "" {
		resp.Result.Message = message
	}
	if len(warnings) > 0 {
		resp.Warnings = warnings
	}
	if patch != "" {
		pt := admissionv1.PatchType(patchType)
		resp.PatchType = &pt
		resp.Patch = []byte(patch)
	}
	return resp, nil
}

// resolveDigest honors policy.Rule.Denies()'s "verify: false" sugar by
// routing straight to a failure without consulting the configured
// validator, then otherwise dispatches to the named validator.
func (h *Handler) resolveDigest(ctx context.Context, img image.Ref, rule policy.Rule) (string, error) {
	if rule.Denies() {
		return "", apperr.New(apperr.SignatureInvalid, "static deny")
	}

	v, err := h.Registry.Get(rule.ValidatorName())
	if err != nil {
		return "", err
	}

	digests, err := v.Validate(ctx, img, rule)
	if err != nil {
		return "", err
	}
	if len(digests) == 0 {
		return "", nil
	}
	// Cosign reports "sha256:<hex>"; the patch value appends its own
	// "@sha256:" prefix, so only the hex part is returned.
	return strings.TrimPrefix(digests[0], "sha256:"), nil
}

func statusCode(allowed bool) int32 {
	if allowed {
		return 202
	}
	return 403
}

// statusMessages maps each apperr.Kind to the fixed, non-parameterized
// status.message spec.md section 7 requires: the detailed, wrapped
// error (which may embed upstream response bodies, file paths, or
// other internal detail) is logged via logging.FromContext in Handle,
// never returned to the caller.
var statusMessages = map[apperr.Kind]string{
	apperr.InvalidFormat:         "the workload or trust data could not be parsed",
	apperr.NotFound:              "no trust data or policy match was found for the image",
	apperr.Unreachable:           "the configured validator could not be reached",
	apperr.Expired:               "trust data has expired",
	apperr.SignatureInvalid:      "image signature verification failed",
	apperr.HashMismatch:          "trust data integrity check failed",
	apperr.InsufficientTrustData: "required signatures are missing for the image",
	apperr.AmbiguousDigest:       "the signed digest for the image could not be determined unambiguously",
	apperr.UnknownAPIVersion:     "the workload's API version is not supported",
	apperr.ParentNotFound:        "the workload's owning resource could not be resolved",
	apperr.PathTraversal:         "the image reference is invalid",
	apperr.CosignTimeout:         "signature validation timed out",
	apperr.CosignError:           "signature validation failed",
	apperr.ConfigurationError:    "the validator is misconfigured",
	apperr.UnknownType:           "the validator type is not supported",
	apperr.VersionRollback:       "trust data version rollback was detected",
}

// userMessage collapses any failure to a terse, fixed message; the
// detailed error is logged separately and never leaked verbatim, per
// spec.md section 4.12's propagation rule and
// original_source/connaisseur/flask_server.py's split between
// err.user_msg (response) and str(err) (log only).
func userMessage(err error) string {
	if err == nil {
		return ""
	}
	if me, ok := err.(*multierror.Error); ok {
		if len(me.Errors) == 1 {
			return userMessage(me.Errors[0])
		}
		return "unable to validate one or more images. please check the logs."
	}
	if kind := apperr.KindOf(err); kind != "" {
		if msg, ok := statusMessages[kind]; ok {
			return msg
		}
	}
	return "unknown error. please check the logs."
}

func deny(review admissionv1.AdmissionReview, uid, message string, detectionMode bool) admissionv1.AdmissionReview {
	review.Response = &admissionv1.AdmissionResponse{
		UID:     types.UID(uid),
		Allowed: detectionMode,
		Result:  &metav1.Status{Code: statusCode(detectionMode), Message: message},
	}
	if detectionMode {
		review.Response.Warnings = []string{message}
	}
	return review
}
