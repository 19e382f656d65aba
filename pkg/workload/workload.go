// Package workload implements workload traversal (C10): per-kind
// dispatch that extracts every container and init container image
// from an admission request's object along with its JSON Pointer
// mutation path, and resolves an owned object's parent when
// ownerReferences is non-empty, grounded on
// original_source/connaisseur/workload_object.py and the teacher's
// pkg/webhook/validator.go per-kind dispatch shape.
package workload

import (
	"encoding/json"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
)

// SupportedAPIVersions mirrors original_source's SUPPORTED_API_VERSIONS
// allowlist: for each kind, the apiVersion strings accepted.
var SupportedAPIVersions = map[string][]string{
	"Pod":                   {"v1"},
	"Deployment":            {"apps/v1", "apps/v1beta1", "apps/v1beta2"},
	"ReplicationController": {"v1"},
	"ReplicaSet":            {"apps/v1", "apps/v1beta1", "apps/v1beta2"},
	"DaemonSet":             {"apps/v1", "apps/v1beta1", "apps/v1beta2"},
	"StatefulSet":           {"apps/v1", "apps/v1beta1", "apps/v1beta2"},
	"Job":                   {"batch/v1"},
	"CronJob":               {"batch/v1beta1", "batch/v2alpha1", "batch/v1"},
}

// Container is one discovered container reference within a workload.
type Container struct {
	Image string
	Index int
	// Type is "containers" or "initContainers".
	Type string
}

// Object is a parsed, kind-dispatched workload. Containers and
// PatchPath together replace original_source's per-kind "containers"
// property and "get_json_patch" method.
type Object struct {
	Kind       string
	APIVersion string
	Namespace  string
	Name       string

	owners     []metav1.OwnerReference
	containers []Container
	pathFormat string
}

// Parse dispatches on raw's "kind" field, unmarshals the pod spec at
// the kind-appropriate location, and validates the declared
// apiVersion against SupportedAPIVersions.
func Parse(raw []byte, namespace string) (*Object, error) {
	var head struct {
		Kind       string `json:"kind"`
		APIVersion string `json:"apiVersion"`
		Metadata struct {
			Name            string                  `json:"name"`
			GenerateName    string                  `json:"generateName"`
			OwnerReferences []metav1.OwnerReference `json:"ownerReferences"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, apperr.Wrap(apperr.InvalidFormat, err, "decoding workload object")
	}

	allowed, ok := SupportedAPIVersions[head.Kind]
	if !ok || !containsString(allowed, head.APIVersion) {
		return nil, apperr.New(apperr.UnknownAPIVersion,
			"%s is not in the supported API version list for %s %s", head.APIVersion, head.Kind, head.Name)
	}

	name := head.Metadata.Name
	if name == "" {
		name = head.Metadata.GenerateName
	}

	o := &Object{
		Kind:       head.Kind,
		APIVersion: head.APIVersion,
		Namespace:  namespace,
		Name:       name,
		owners:     head.Metadata.OwnerReferences,
	}

	switch head.Kind {
	case "Pod":
		var pod corev1.Pod
		if err := json.Unmarshal(raw, &pod); err != nil {
			return nil, apperr.Wrap(apperr.InvalidFormat, err, "decoding pod")
		}
		o.containers = containersOf(pod.Spec.Containers, pod.Spec.InitContainers)
		o.pathFormat = "/spec/%s/%d/image"
	case "CronJob":
		spec, err := cronJobPodSpec(raw)
		if err != nil {
			return nil, err
		}
		o.containers = containersOf(spec.Containers, spec.InitContainers)
		o.pathFormat = "/spec/jobTemplate/spec/template/spec/%s/%d/image"
	case "Job":
		var job batchv1.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, apperr.Wrap(apperr.InvalidFormat, err, "decoding job")
		}
		spec := job.Spec.Template.Spec
		o.containers = containersOf(spec.Containers, spec.InitContainers)
		o.pathFormat = "/spec/template/spec/%s/%d/image"
	default:
		spec, err := genericPodSpec(raw)
		if err != nil {
			return nil, err
		}
		o.containers = containersOf(spec.Containers, spec.InitContainers)
		o.pathFormat = "/spec/template/spec/%s/%d/image"
	}

	return o, nil
}

// Containers returns every container discovered for o, containers
// first then initContainers, in declared order.
func (o *Object) Containers() []Container { return o.containers }

// OwnerReferences returns o's declared owners.
func (o *Object) OwnerReferences() []metav1.OwnerReference { return o.owners }

// SetContainers replaces o's container list, used by ResolveContainers to
// substitute the child's containers with the owning controller's.
func (o *Object) SetContainers(c []Container) { o.containers = c }

// PatchPath returns the JSON Pointer path for c within o.
func (o *Object) PatchPath(c Container) string {
	return fmt.Sprintf(o.pathFormat, c.Type, c.Index)
}

func containersOf(containers, initContainers []corev1.Container) []Container {
	out := make([]Container, 0, len(containers)+len(initContainers))
	for i, c := range containers {
		out = append(out, Container{Image: c.Image, Index: i, Type: "containers"})
	}
	for i, c := range initContainers {
		out = append(out, Container{Image: c.Image, Index: i, Type: "initContainers"})
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// genericPodSpec unmarshals the spec.template.spec pod spec shared by
// Deployment/ReplicaSet/StatefulSet/DaemonSet/ReplicationController.
func genericPodSpec(raw []byte) (corev1.PodSpec, error) {
	var wrapper struct {
		Spec struct {
			Template corev1.PodTemplateSpec `json:"template"`
		} `json:"spec"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return corev1.PodSpec{}, apperr.Wrap(apperr.InvalidFormat, err, "decoding workload pod template")
	}
	return wrapper.Spec.Template.Spec, nil
}

func cronJobPodSpec(raw []byte) (corev1.PodSpec, error) {
	var wrapper struct {
		Spec struct {
			JobTemplate struct {
				Spec batchv1.JobSpec `json:"spec"`
			} `json:"jobTemplate"`
		} `json:"spec"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return corev1.PodSpec{}, apperr.Wrap(apperr.InvalidFormat, err, "decoding cronjob pod template")
	}
	return wrapper.Spec.JobTemplate.Spec.Template.Spec, nil
}
