package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// ServiceSource abstracts the list/watch API the watcher consumes.
// Production uses the typed clientset; tests inject scripted sources.
type ServiceSource interface {
	// List returns every Service plus the resourceVersion the snapshot
	// was taken at.
	List(ctx context.Context) ([]*corev1.Service, string, error)

	// Watch streams changes from the given resourceVersion.
	Watch(ctx context.Context, resourceVersion string) (watch.Interface, error)
}

type kubeSource struct {
	client kubernetes.Interface
}

// NewKubeSource lists and watches Services across all namespaces.
func NewKubeSource(client kubernetes.Interface) ServiceSource {
	return &kubeSource{client: client}
}

func (s *kubeSource) List(ctx context.Context) ([]*corev1.Service, string, error) {
	list, err := s.client.CoreV1().Services(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list services: %w", err)
	}

	services := make([]*corev1.Service, 0, len(list.Items))
	for i := range list.Items {
		services = append(services, &list.Items[i])
	}
	return services, list.ResourceVersion, nil
}

func (s *kubeSource) Watch(ctx context.Context, resourceVersion string) (watch.Interface, error) {
	stream, err := s.client.CoreV1().Services(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch services: %w", err)
	}
	return stream, nil
}
