package podfactory

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/hex108/spark/internal/backend/configuration"
	"github.com/hex108/spark/internal/backend/domain"
)

const (
	executorContainerName = "executor"
	hostnameNodeLabel     = "kubernetes.io/hostname"

	maxAffinityWeight = 100
)

// PodFactory produces a ready-to-submit executor pod spec. Implementations
// are pure: no cluster side effects. The nodeLocality map is a preference,
// not a constraint - a factory is free to ignore it.
type PodFactory interface {
	Create(
		executorId string,
		appId string,
		driverUrl string,
		envOverrides map[string]string,
		ownerPod *v1.Pod,
		nodeLocality map[string]int,
	) *v1.Pod
}

type ExecutorPodFactory struct {
	namespace string
	image     string
	cores     resource.Quantity
	memory    resource.Quantity
}

func NewExecutorPodFactory(namespace string, config configuration.ExecutorConfiguration) (*ExecutorPodFactory, error) {
	cores, err := resource.ParseQuantity(config.Cores)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid executor cores %q", config.Cores)
	}
	memory, err := resource.ParseQuantity(config.Memory)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid executor memory %q", config.Memory)
	}
	return &ExecutorPodFactory{
		namespace: namespace,
		image:     config.Image,
		cores:     cores,
		memory:    memory,
	}, nil
}

func (f *ExecutorPodFactory) Create(
	executorId string,
	appId string,
	driverUrl string,
	envOverrides map[string]string,
	ownerPod *v1.Pod,
	nodeLocality map[string]int,
) *v1.Pod {
	resources := v1.ResourceList{
		v1.ResourceCPU:    f.cores,
		v1.ResourceMemory: f.memory,
	}

	pod := &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-exec-%s", appId, executorId),
			Namespace: f.namespace,
			Labels: map[string]string{
				domain.AppIdLabel:      appId,
				domain.RoleLabel:       domain.ExecutorRole,
				domain.ExecutorIdLabel: executorId,
			},
			OwnerReferences: []metav1.OwnerReference{createOwnerReference(ownerPod)},
		},
		Spec: v1.PodSpec{
			RestartPolicy: v1.RestartPolicyNever,
			Affinity:      localityAffinity(nodeLocality),
			Containers: []v1.Container{
				{
					Name:  executorContainerName,
					Image: f.image,
					Env:   executorEnv(executorId, appId, driverUrl, f.cores.String(), envOverrides),
					Resources: v1.ResourceRequirements{
						Requests: resources,
						Limits:   resources,
					},
				},
			},
		},
	}

	return pod
}

// createOwnerReference ties the executor pod to the driver pod so the cluster
// cascade-deletes orphaned executors at driver death.
func createOwnerReference(ownerPod *v1.Pod) metav1.OwnerReference {
	controller := true
	return metav1.OwnerReference{
		APIVersion: "v1",
		Kind:       "Pod",
		Name:       ownerPod.Name,
		UID:        ownerPod.UID,
		Controller: &controller,
	}
}

func executorEnv(executorId string, appId string, driverUrl string, cores string, overrides map[string]string) []v1.EnvVar {
	env := []v1.EnvVar{
		{Name: domain.EnvExecutorId, Value: executorId},
		{Name: domain.EnvApplicationId, Value: appId},
		{Name: domain.EnvDriverUrl, Value: driverUrl},
		{Name: domain.EnvExecutorCores, Value: cores},
		{
			Name: domain.EnvExecutorPodIP,
			ValueFrom: &v1.EnvVarSource{
				FieldRef: &v1.ObjectFieldSelector{APIVersion: "v1", FieldPath: "status.podIP"},
			},
		},
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, v1.EnvVar{Name: name, Value: overrides[name]})
	}
	return env
}

// localityAffinity prefers nodes with pending local tasks, weighting each by
// its task count. Soft preference only; the scheduler may place the executor
// anywhere.
func localityAffinity(nodeLocality map[string]int) *v1.Affinity {
	if len(nodeLocality) == 0 {
		return nil
	}

	nodes := make([]string, 0, len(nodeLocality))
	for node := range nodeLocality {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	terms := make([]v1.PreferredSchedulingTerm, 0, len(nodes))
	for _, node := range nodes {
		weight := nodeLocality[node]
		if weight < 1 {
			weight = 1
		}
		if weight > maxAffinityWeight {
			weight = maxAffinityWeight
		}
		terms = append(terms, v1.PreferredSchedulingTerm{
			Weight: int32(weight),
			Preference: v1.NodeSelectorTerm{
				MatchExpressions: []v1.NodeSelectorRequirement{
					{
						Key:      hostnameNodeLabel,
						Operator: v1.NodeSelectorOpIn,
						Values:   []string{node},
					},
				},
			},
		})
	}

	return &v1.Affinity{
		NodeAffinity: &v1.NodeAffinity{
			PreferredDuringSchedulingIgnoredDuringExecution: terms,
		},
	}
}
