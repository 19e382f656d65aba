package workload

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
)

func newTestParentFetcher(t *testing.T, handler http.HandlerFunc) *ParentFetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &rest.Config{
		Host: srv.URL,
		ContentConfig: rest.ContentConfig{
			GroupVersion:         &corev1.SchemeGroupVersion,
			NegotiatedSerializer: scheme.Codecs,
		},
	}
	pf, err := NewParentFetcher(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return pf
}

func ownedPod(t *testing.T, ownerUID string) *Object {
	t.Helper()
	raw := []byte(fmt.Sprintf(`{
		"kind": "Pod", "apiVersion": "v1",
		"metadata": {
			"name": "alice",
			"ownerReferences": [{"kind": "ReplicaSet", "apiVersion": "apps/v1", "name": "alice-rs", "uid": %q}]
		},
		"spec": {"containers": [{"image": "alice-image:test"}]}
	}`, ownerUID))
	o, err := Parse(raw, "default")
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestResolveContainersMatchingUIDReplacesWithParents(t *testing.T) {
	pf := newTestParentFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apis/apps/v1/namespaces/default/replicasets/alice-rs" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"kind": "ReplicaSet", "apiVersion": "apps/v1",
			"metadata": {"uid": "owner-uid-1"},
			"spec": {"template": {"spec": {"containers": [{"image": "parent-image:test"}]}}}
		}`))
	})

	o := ownedPod(t, "owner-uid-1")
	if err := pf.ResolveContainers(context.Background(), o); err != nil {
		t.Fatalf("ResolveContainers: %v", err)
	}

	containers := o.Containers()
	if len(containers) != 1 || containers[0].Image != "parent-image:test" {
		t.Fatalf("expected the parent's containers, got %+v", containers)
	}
}

func TestResolveContainersUIDMismatchFails(t *testing.T) {
	pf := newTestParentFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"kind": "ReplicaSet", "apiVersion": "apps/v1",
			"metadata": {"uid": "some-other-uid"},
			"spec": {"template": {"spec": {"containers": []}}}
		}`))
	})

	o := ownedPod(t, "owner-uid-1")
	err := pf.ResolveContainers(context.Background(), o)
	if !apperr.Is(err, apperr.ParentNotFound) {
		t.Fatalf("expected ParentNotFound, got %v", err)
	}
}

func TestResolveContainersNoOwnersIsNoop(t *testing.T) {
	pf := newTestParentFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be made when the object has no owners")
	})

	raw := []byte(`{
		"kind": "Pod", "apiVersion": "v1",
		"metadata": {"name": "alice"},
		"spec": {"containers": [{"image": "alice-image:test"}]}
	}`)
	o, err := Parse(raw, "default")
	if err != nil {
		t.Fatal(err)
	}
	if err := pf.ResolveContainers(context.Background(), o); err != nil {
		t.Fatalf("ResolveContainers: %v", err)
	}
	if len(o.Containers()) != 1 || o.Containers()[0].Image != "alice-image:test" {
		t.Fatalf("expected containers unchanged, got %+v", o.Containers())
	}
}

func TestWebhookRegisteredAndSentinelRunning(t *testing.T) {
	pf := newTestParentFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/apis/admissionregistration.k8s.io/v1/mutatingwebhookconfigurations/connaisseur-webhook":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		case "/api/v1/namespaces/connaisseur/pods/connaisseur-sentinel":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status": {"phase": "Running"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	if !pf.WebhookRegistered(context.Background(), "connaisseur-webhook") {
		t.Fatal("expected the webhook configuration to be reported as registered")
	}
	if !pf.SentinelRunning(context.Background(), "connaisseur", "connaisseur-sentinel") {
		t.Fatal("expected the sentinel pod to be reported as running")
	}
	if pf.WebhookRegistered(context.Background(), "missing-webhook") {
		t.Fatal("expected an unregistered webhook configuration to be reported as absent")
	}
	if pf.SentinelRunning(context.Background(), "connaisseur", "missing-sentinel") {
		t.Fatal("expected a missing sentinel pod to be reported as not running")
	}
}
