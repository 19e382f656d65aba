// Package notaryv1 implements the Notary v1 validator (C6): driving
// the TUF chain-of-trust algorithm against a notary.Client and
// resolving an image reference to its signed digest(s), grounded on
// original_source/connaisseur/validate.py
// (__process_chain_of_trust, __search_image_targets_for_digest/tag,
// __validate_all_required_delegations_present).
package notaryv1

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
	"github.com/sse-secure-systems/connaisseur/pkg/image"
	"github.com/sse-secure-systems/connaisseur/pkg/notary"
	"github.com/sse-secure-systems/connaisseur/pkg/policy"
	"github.com/sse-secure-systems/connaisseur/pkg/timing"
	"github.com/sse-secure-systems/connaisseur/pkg/tuf"
)

// chainTimeout is the deadline for all trust-data fetches of one
// chain-of-trust run.
const chainTimeout = 30 * time.Second

// RootKey is one named root key a Validator can be configured with
// (config's root_keys list); Rule.Key selects among these by Name.
type RootKey struct {
	Name    string
	KeyType string
	PEM     []byte
}

// Validator resolves images against a single Notary v1 host.
type Validator struct {
	name     string
	client   *notary.Client
	rootKeys map[string]RootKey
}

// New builds a notaryv1 Validator. rootKeys must contain at least
// "default".
func New(name string, client *notary.Client, rootKeys []RootKey) *Validator {
	m := make(map[string]RootKey, len(rootKeys))
	for _, k := range rootKeys {
		m[k.Name] = k
	}
	return &Validator{name: name, client: client, rootKeys: m}
}

func (v *Validator) Name() string { return v.name }

func (v *Validator) Healthy(ctx context.Context) bool { return v.client.Healthy(ctx) }

// Validate resolves img to its signed digest(s) by walking the TUF
// chain of trust, applying rule's key selection and required
// delegations.
func (v *Validator) Validate(ctx context.Context, img image.Ref, rule policy.Rule) ([]string, error) {
	defer timing.Track(ctx, "notaryv1_validate_"+img.String())()

	keyName := rule.Key
	if keyName == "" {
		keyName = "default"
	}
	rootKey, ok := v.rootKeys[keyName]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unable to get public root key %q from configuration", keyName)
	}

	reqDelegations := make([]string, 0, len(rule.Delegations))
	for _, d := range rule.Delegations {
		reqDelegations = append(reqDelegations, normalizeDelegation(d))
	}

	targetMaps, err := v.processChainOfTrust(ctx, img, reqDelegations, rootKey)
	if err != nil {
		return nil, err
	}

	search := searchByTag
	if img.HasDigest() {
		search = searchByDigest
	}

	found := map[string]struct{}{}
	for _, targets := range targetMaps {
		if d, ok := search(targets, img); ok {
			found[d] = struct{}{}
		}
	}

	if len(reqDelegations) > 0 {
		for i, targets := range targetMaps {
			if _, ok := search(targets, img); !ok {
				return nil, apperr.New(apperr.InsufficientTrustData,
					"not all required delegations have trust data for image %s (missing %s)", img, reqDelegations[i])
			}
		}
	}

	if len(found) == 0 {
		return nil, apperr.New(apperr.NotFound, "unable to find signed digest for image %s", img)
	}
	if len(found) > 1 {
		return nil, apperr.New(apperr.AmbiguousDigest, "found multiple signed digests for image %s", img)
	}

	digest := ""
	for d := range found {
		digest = d
	}
	return []string{digest}, nil
}

// processChainOfTrust fetches and validates root, timestamp, snapshot,
// targets (and any delegations), in the exact order spec.md section
// 4.6 and validate.py's __process_chain_of_trust require, and returns
// the set of "role -> target meta" maps search order should consult:
// either the required delegations' own targets maps, or
// targets/releases (if present) else targets.
func (v *Validator) processChainOfTrust(ctx context.Context, img image.Ref, reqDelegations []string, rootKey RootKey) ([]map[string]tuf.FileMeta, error) {
	defer timing.Track(ctx, "notaryv1_chain_"+img.String())()

	// One shared deadline bounds the top-level and delegation fetches.
	ctx, cancel := context.WithTimeout(ctx, chainTimeout)
	defer cancel()

	root, timestamp, snapshot, targets, err := v.fetchTopLevel(ctx, img)
	if err != nil {
		return nil, err
	}

	ks, err := tuf.Bootstrap(root, rootKey.KeyType, rootKey.PEM)
	if err != nil {
		return nil, err
	}
	if err := root.ValidateSignature(ks); err != nil {
		return nil, err
	}
	if err := root.ValidateExpiry(); err != nil {
		return nil, err
	}
	if err := ks.LoadRoot(root); err != nil {
		return nil, err
	}

	if err := timestamp.Validate(ks); err != nil {
		return nil, err
	}

	if err := snapshot.ValidateSignature(ks); err != nil {
		return nil, err
	}
	if err := snapshot.ValidateHash(timestamp.Signed.Meta); err != nil {
		return nil, err
	}
	if err := snapshot.ValidateExpiry(); err != nil {
		return nil, err
	}

	if err := root.ValidateHash(snapshot.Signed.Meta); err != nil {
		return nil, err
	}

	if err := targets.Validate(ks); err != nil {
		return nil, err
	}
	if err := targets.ValidateHash(snapshot.Signed.Meta); err != nil {
		return nil, err
	}

	delegationRoles := []string{}
	delegationTrust := map[string]*tuf.Targets{}
	if targets.Signed.Delegations != nil && len(targets.Signed.Delegations.Roles) > 0 {
		for _, d := range targets.Signed.Delegations.Roles {
			delegationRoles = append(delegationRoles, d.Name)
			if err := ks.LoadRole(d.Name, targets.Signed.Delegations.Keys, tuf.RoleKeys{KeyIDs: d.KeyIDs, Threshold: d.Threshold}); err != nil {
				return nil, err
			}
		}

		fetched, err := v.fetchDelegations(ctx, img, delegationRoles)
		if err != nil {
			return nil, err
		}
		for name, t := range fetched {
			if t == nil {
				continue
			}
			if err := t.Validate(ks); err != nil {
				return nil, err
			}
			if err := t.ValidateHash(snapshot.Signed.Meta); err != nil {
				return nil, err
			}
			delegationTrust[name] = t
		}
	}

	if err := validateAllRequiredDelegationsPresent(reqDelegations, delegationRoles); err != nil {
		return nil, err
	}

	if len(reqDelegations) > 0 {
		var maps []map[string]tuf.FileMeta
		for _, name := range reqDelegations {
			t, ok := delegationTrust[name]
			if !ok {
				return nil, apperr.New(apperr.NotFound, "unable to find trust data for delegation role %s and image %s", name, img)
			}
			maps = append(maps, t.Signed.Targets)
		}
		return maps, nil
	}

	if releases, ok := delegationTrust["targets/releases"]; ok && targets.Signed.Delegations != nil {
		return []map[string]tuf.FileMeta{releases.Signed.Targets}, nil
	}
	return []map[string]tuf.FileMeta{targets.Signed.Targets}, nil
}

// fetchTopLevel fetches root, timestamp, snapshot and targets in
// parallel, bounded by ctx's deadline, fanning out with errgroup in
// place of Python's multiprocessing.Pool.starmap_async.
func (v *Validator) fetchTopLevel(ctx context.Context, img image.Ref) (*tuf.Root, *tuf.Timestamp, *tuf.Snapshot, *tuf.Targets, error) {
	defer timing.Track(ctx, "notaryv1_fetch_toplevel_"+img.String())()

	g, gctx := errgroup.WithContext(ctx)

	var rootBytes, timestampBytes, snapshotBytes, targetsBytes []byte

	g.Go(func() error {
		b, err := v.client.GetTrustData(gctx, img, tuf.RoleRoot)
		rootBytes = b
		return err
	})
	g.Go(func() error {
		b, err := v.client.GetTrustData(gctx, img, tuf.RoleTimestamp)
		timestampBytes = b
		return err
	})
	g.Go(func() error {
		b, err := v.client.GetTrustData(gctx, img, tuf.RoleSnapshot)
		snapshotBytes = b
		return err
	})
	g.Go(func() error {
		b, err := v.client.GetTrustData(gctx, img, tuf.RoleTargets)
		targetsBytes = b
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.NotFound, err, "error retrieving trust data from notary")
	}

	var root tuf.Root
	if err := json.Unmarshal(rootBytes, &root); err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.InvalidFormat, err, "parsing root trust data")
	}
	var timestamp tuf.Timestamp
	if err := json.Unmarshal(timestampBytes, &timestamp); err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.InvalidFormat, err, "parsing timestamp trust data")
	}
	var snapshot tuf.Snapshot
	if err := json.Unmarshal(snapshotBytes, &snapshot); err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.InvalidFormat, err, "parsing snapshot trust data")
	}
	var targets tuf.Targets
	if err := json.Unmarshal(targetsBytes, &targets); err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.InvalidFormat, err, "parsing targets trust data")
	}
	targets.RoleName = string(tuf.RoleTargets)

	return &root, &timestamp, &snapshot, &targets, nil
}

// fetchDelegations fetches every named delegation role's trust data
// in parallel. A role whose fetch fails for any reason (per
// GetDelegationTrustData's contract) or whose body is not valid JSON
// is left out of the returned map.
func (v *Validator) fetchDelegations(ctx context.Context, img image.Ref, roles []string) (map[string]*tuf.Targets, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make(map[string][]byte, len(roles))
	var mu sync.Mutex

	for _, role := range roles {
		role := role
		g.Go(func() error {
			data := v.client.GetDelegationTrustData(gctx, img, tuf.Role(role))
			mu.Lock()
			results[role] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*tuf.Targets, len(roles))
	for role, data := range results {
		if data == nil {
			continue
		}
		var t tuf.Targets
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		t.RoleName = role
		out[role] = &t
	}
	return out, nil
}

func normalizeDelegation(role string) string {
	if strings.HasPrefix(role, "targets/") {
		return role
	}
	return "targets/" + role
}

func validateAllRequiredDelegationsPresent(required, present []string) error {
	if len(required) == 0 {
		return nil
	}
	if len(present) == 0 {
		return apperr.New(apperr.NotFound, "unable to find any delegations in trust data")
	}
	presentSet := map[string]struct{}{}
	for _, p := range present {
		if p == "targets/releases" {
			continue
		}
		presentSet[p] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := presentSet[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return apperr.New(apperr.NotFound, "unable to find delegation roles %v in trust data", missing)
	}
	return nil
}

func searchByDigest(targets map[string]tuf.FileMeta, img image.Ref) (string, bool) {
	wantHex := img.Digest()
	raw, err := hex.DecodeString(wantHex)
	if err != nil {
		return "", false
	}
	want := base64.StdEncoding.EncodeToString(raw)
	for _, meta := range targets {
		if meta.Hashes["sha256"] == want {
			return wantHex, true
		}
	}
	return "", false
}

func searchByTag(targets map[string]tuf.FileMeta, img image.Ref) (string, bool) {
	meta, ok := targets[img.Tag()]
	if !ok {
		return "", false
	}
	b64 := meta.Hashes["sha256"]
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", false
	}
	return hex.EncodeToString(raw), true
}
