package workload

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
)

// ParentFetcher resolves the owning controller object for an owned
// workload, mirroring original_source's
// k_api.request_kube_api(f"apis/{api_version}/namespaces/{ns}/{kind}s/{name}").
type ParentFetcher struct {
	rest rest.Interface
}

// NewParentFetcher builds a ParentFetcher from a configured
// *rest.Config, used for the owner-reference GETs and the readiness
// probes below.
func NewParentFetcher(cfg *rest.Config) (*ParentFetcher, error) {
	client, err := rest.RESTClientFor(cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigurationError, err, "building kubernetes REST client")
	}
	return &ParentFetcher{rest: client}, nil
}

// ResolveContainers replaces o's container list with the aggregate of
// every owner's containers whenever o declares owner references. A
// ReplicaSet's pod template must never be validated independently of
// the Deployment that owns it (spec.md section 4.10), so this is
// unconditional when owners are present: each owner reference is
// followed in turn and its metadata.uid must match, mirroring
// original_source/connaisseur/workload_object.py's parent_containers
// property, which loops every entry of self._owner rather than just
// the first.
func (f *ParentFetcher) ResolveContainers(ctx context.Context, o *Object) error {
	owners := o.OwnerReferences()
	if len(owners) == 0 {
		return nil
	}

	var containers []Container
	for _, owner := range owners {
		parent, err := f.fetchParent(ctx, o.Namespace, owner)
		if err != nil {
			return err
		}
		containers = append(containers, parent.Containers()...)
	}
	o.SetContainers(containers)
	return nil
}

// fetchParent fetches and parses the single object named by owner,
// failing with ParentNotFound if no such object exists or its uid
// doesn't match owner.UID.
func (f *ParentFetcher) fetchParent(ctx context.Context, namespace string, owner metav1.OwnerReference) (*Object, error) {
	plural := strings.ToLower(owner.Kind) + "s"
	path := fmt.Sprintf("/apis/%s/namespaces/%s/%s/%s", owner.APIVersion, namespace, plural, owner.Name)

	raw, err := f.rest.Get().AbsPath(path).DoRaw(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.ParentNotFound, err, "fetching parent %s %s", owner.Kind, owner.Name)
	}

	var meta struct {
		Metadata struct {
			UID string `json:"uid"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, apperr.Wrap(apperr.InvalidFormat, err, "decoding parent %s %s", owner.Kind, owner.Name)
	}
	if meta.Metadata.UID != string(owner.UID) {
		return nil, apperr.New(apperr.ParentNotFound,
			"couldn't find the right parent resource %s %s", owner.Kind, owner.Name)
	}

	return Parse(raw, namespace)
}

// SentinelRunning reports whether the bootstrap sentinel Pod named
// name in namespace ns currently has status.phase "Running", mirroring
// original_source/connaisseur/flask_server.py's readyz
// sentinel_running check: a missing pod (or any other request error)
// reports not-running rather than failing readiness outright.
func (f *ParentFetcher) SentinelRunning(ctx context.Context, ns, name string) bool {
	path := fmt.Sprintf("/api/v1/namespaces/%s/pods/%s", ns, name)
	raw, err := f.rest.Get().AbsPath(path).DoRaw(ctx)
	if err != nil {
		return false
	}
	var pod struct {
		Status struct {
			Phase string `json:"phase"`
		} `json:"status"`
	}
	if err := json.Unmarshal(raw, &pod); err != nil {
		return false
	}
	return pod.Status.Phase == "Running"
}

// WebhookRegistered reports whether the MutatingWebhookConfiguration
// named name currently exists, mirroring flask_server.py's readyz
// webhook_response check (updated from the original's
// admissionregistration.k8s.io/v1beta1 to v1, matching this
// implementation's use of the v1 admission API throughout).
func (f *ParentFetcher) WebhookRegistered(ctx context.Context, name string) bool {
	path := fmt.Sprintf("/apis/admissionregistration.k8s.io/v1/mutatingwebhookconfigurations/%s", name)
	_, err := f.rest.Get().AbsPath(path).DoRaw(ctx)
	return err == nil
}
