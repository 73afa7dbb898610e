package kubernetes

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// K8sConfig configures the lease used for leader election.
type K8sConfig struct {
	// Namespace the Lease object lives in.
	Namespace string
	// LeaderLockID names the Lease object (one per elected role).
	LeaderLockID string
	// Identity uniquely names this process among candidates (pod name).
	Identity string
	// Kubeconfig, when set, loads an out-of-cluster config from this path.
	// Left empty in-cluster, where the in-cluster config is used instead.
	Kubeconfig string
}

// getKubernetesClient builds a client-go clientset, preferring the in-cluster
// config and falling back to kubeconfig for local development.
func getKubernetesClient(cfg *K8sConfig) (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		if cfg.Kubeconfig == "" {
			return nil, fmt.Errorf("not running in-cluster and no kubeconfig path provided: %w", err)
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("building config from kubeconfig %q: %w", cfg.Kubeconfig, err)
		}
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}
	return client, nil
}
