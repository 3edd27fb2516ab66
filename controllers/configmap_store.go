package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	forgev1alpha1 "github.com/anvil-platform/forge/api/v1alpha1"
	"github.com/anvil-platform/forge/internal/supplytree"
)

const (
	labelManagedBy     = "forge.platform/managed-by"
	labelSupplyRequest = "forge.platform/supply-request"

	managedBySupplyRequest = "supplyrequest"
)

// ConfigMapStore keeps the trees of one SupplyRequest in a ConfigMap it owns, one key per
// tree id. References have the form "<configmap>/<tree id>".
type ConfigMapStore struct {
	Client client.Client
	Scheme *runtime.Scheme
	Owner  *forgev1alpha1.SupplyRequest
}

var _ supplytree.Store = (*ConfigMapStore)(nil)

func storeConfigMapName(requestName string) string {
	return requestName + "-trees"
}

func (s *ConfigMapStore) key() types.NamespacedName {
	return types.NamespacedName{Namespace: s.Owner.Namespace, Name: storeConfigMapName(s.Owner.Name)}
}

func (s *ConfigMapStore) Put(ctx context.Context, t *supplytree.SupplyTree) (string, error) {
	if t == nil || t.ID == "" {
		return "", fmt.Errorf("%w: tree has no id", supplytree.ErrNotFound)
	}
	if !t.Finalized() {
		return "", fmt.Errorf("supplytree: tree %s is not finalized", t.ID)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode tree %s: %w", t.ID, err)
	}
	if err := s.mutate(ctx, func(cm *corev1.ConfigMap) { cm.Data[t.ID] = string(data) }); err != nil {
		return "", err
	}
	return s.key().Name + "/" + t.ID, nil
}

func (s *ConfigMapStore) Get(ctx context.Context, ref string) (*supplytree.SupplyTree, error) {
	id, err := s.treeID(ref)
	if err != nil {
		return nil, err
	}
	var cm corev1.ConfigMap
	if err := s.Client.Get(ctx, s.key(), &cm); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: tree %s", supplytree.ErrNotFound, ref)
		}
		return nil, err
	}
	data, ok := cm.Data[id]
	if !ok {
		return nil, fmt.Errorf("%w: tree %s", supplytree.ErrNotFound, ref)
	}
	var t supplytree.SupplyTree
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("decode tree %s: %w", ref, err)
	}
	return &t, nil
}

func (s *ConfigMapStore) Delete(ctx context.Context, ref string) error {
	id, err := s.treeID(ref)
	if err != nil {
		return err
	}
	return s.mutate(ctx, func(cm *corev1.ConfigMap) { delete(cm.Data, id) })
}

// Prune removes every tree not listed in keep and returns the removed ids.
func (s *ConfigMapStore) Prune(ctx context.Context, keep map[string]struct{}) ([]string, error) {
	var cm corev1.ConfigMap
	if err := s.Client.Get(ctx, s.key(), &cm); err != nil {
		return nil, client.IgnoreNotFound(err)
	}
	var stale []string
	for id := range cm.Data {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}
	sort.Strings(stale)
	err := s.mutate(ctx, func(cm *corev1.ConfigMap) {
		for _, id := range stale {
			delete(cm.Data, id)
		}
	})
	return stale, err
}

func (s *ConfigMapStore) mutate(ctx context.Context, fn func(cm *corev1.ConfigMap)) error {
	key := s.key()
	cm := &corev1.ConfigMap{}
	cm.Namespace = key.Namespace
	cm.Name = key.Name
	_, err := controllerutil.CreateOrUpdate(ctx, s.Client, cm, func() error {
		if cm.Labels == nil {
			cm.Labels = map[string]string{}
		}
		cm.Labels[labelManagedBy] = managedBySupplyRequest
		cm.Labels[labelSupplyRequest] = s.Owner.Name
		if cm.Data == nil {
			cm.Data = map[string]string{}
		}
		fn(cm)
		return controllerutil.SetControllerReference(s.Owner, cm, s.Scheme)
	})
	if err != nil {
		return fmt.Errorf("update tree store %s: %w", key.Name, err)
	}
	return nil
}

func (s *ConfigMapStore) treeID(ref string) (string, error) {
	name, id, ok := strings.Cut(ref, "/")
	if !ok || name != s.key().Name || id == "" {
		return "", fmt.Errorf("%w: reference %q is not in store %s", supplytree.ErrNotFound, ref, s.key().Name)
	}
	return id, nil
}
