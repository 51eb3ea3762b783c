package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/anklab/avahi-advertiser/internal/cluster"
	"github.com/anklab/avahi-advertiser/internal/index"
	"github.com/anklab/avahi-advertiser/internal/logger"
	"github.com/anklab/avahi-advertiser/internal/reconciler"
	"github.com/anklab/avahi-advertiser/internal/scheduler"
	"github.com/anklab/avahi-advertiser/internal/store/avahi"
)

// pipeline wires a fake clientset through the watcher, reconciler and
// surface store, the same shape app.New builds in production.
type pipeline struct {
	client *fake.Clientset
	store  *avahi.Store
	idx    *index.RecordIndex
}

// startPipeline runs the full chain against temp surfaces. The
// resyncer runs at a short interval so events the fake watch drops
// between list and watch registration heal quickly.
func startPipeline(t *testing.T, objects ...runtime.Object) *pipeline {
	t.Helper()

	dir := t.TempDir()
	servicesDir := filepath.Join(dir, "services")
	if err := os.Mkdir(servicesDir, 0o755); err != nil {
		t.Fatalf("Mkdir(%s) error = %v", servicesDir, err)
	}

	log := logger.New("error", false)
	store, err := avahi.NewStore(avahi.Options{
		HostsFile:   filepath.Join(dir, "hosts"),
		ServicesDir: servicesDir,
	}, log)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	idx := index.NewRecordIndex()
	client := fake.NewSimpleClientset(objects...)

	watcher := cluster.NewWatcher(cluster.NewKubeSource(client), log, 20*time.Millisecond)
	rec := reconciler.New(idx, store, watcher.Events(), log)

	ctx, cancel := context.WithCancel(context.Background())
	if err := rec.Start(ctx); err != nil {
		cancel()
		t.Fatalf("reconciler Start() error = %v", err)
	}
	if err := watcher.Start(ctx); err != nil {
		cancel()
		t.Fatalf("watcher Start() error = %v", err)
	}

	resyncTrigger := make(chan struct{}, 1)
	resyncer := scheduler.NewResyncer(watcher, log, 50*time.Millisecond, resyncTrigger)
	if err := resyncer.Start(ctx); err != nil {
		cancel()
		t.Fatalf("resyncer Start() error = %v", err)
	}

	t.Cleanup(func() {
		resyncer.Stop()
		watcher.Stop()
		select {
		case <-rec.Done():
		case <-time.After(2 * time.Second):
			t.Error("reconciler did not drain on shutdown")
		}
		cancel()
		if err := store.Close(); err != nil {
			t.Errorf("store Close() error = %v", err)
		}
	})

	return &pipeline{client: client, store: store, idx: idx}
}

func lbService(namespace, name, ip string, annotations map[string]string) *corev1.Service {
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name, Annotations: annotations},
		Spec:       corev1.ServiceSpec{Type: corev1.ServiceTypeLoadBalancer},
	}
	if ip != "" {
		svc.Status.LoadBalancer.Ingress = []corev1.LoadBalancerIngress{{IP: ip}}
	}
	return svc
}

func npService(namespace, name string, nodePort int32, annotations map[string]string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name, Annotations: annotations},
		Spec: corev1.ServiceSpec{
			Type:  corev1.ServiceTypeNodePort,
			Ports: []corev1.ServicePort{{Port: 80, NodePort: nodePort}},
		},
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func fileContains(path, want string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), want)
}

func fileAbsent(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

func TestPipelineAdvertisesExistingServices(t *testing.T) {
	p := startPipeline(t,
		lbService("media", "jellyfin", "192.168.1.50", nil),
		npService("default", "web-app", 30080, map[string]string{"avahi.local/txt-path": "/api"}),
	)

	wantLine := "192.168.1.50 jellyfin.local # Managed by k8s-avahi-advertiser (media/jellyfin)"
	eventually(t, func() bool {
		return fileContains(p.store.HostsFile(), wantLine)
	}, "jellyfin host line never appeared")

	svcFile := filepath.Join(p.store.ServicesDir(), "k8s-web-app.service")
	eventually(t, func() bool {
		return fileContains(svcFile, "<port>30080</port>") && fileContains(svcFile, "<txt-record>path=/api</txt-record>")
	}, "web-app service file never appeared")

	eventually(t, func() bool {
		return p.idx.Count() == 2 && !p.idx.LastFullSync().IsZero()
	}, "index never reached two applied records")
}

func TestPipelinePicksUpCreatedService(t *testing.T) {
	p := startPipeline(t, lbService("media", "jellyfin", "192.168.1.50", nil))

	eventually(t, func() bool {
		return fileContains(p.store.HostsFile(), "jellyfin.local")
	}, "initial service never advertised")

	ctx := context.Background()
	if _, err := p.client.CoreV1().Services("media").Create(ctx, lbService("media", "plex", "192.168.1.60", nil), metav1.CreateOptions{}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	eventually(t, func() bool {
		return fileContains(p.store.HostsFile(), "192.168.1.60 plex.local")
	}, "created service never advertised")

	if got := p.idx.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
}

func TestPipelineAppliesNodePortChange(t *testing.T) {
	p := startPipeline(t, npService("default", "web-app", 30080, nil))

	svcFile := filepath.Join(p.store.ServicesDir(), "k8s-web-app.service")
	eventually(t, func() bool {
		return fileContains(svcFile, "<port>30080</port>")
	}, "initial service file never appeared")

	ctx := context.Background()
	svc, err := p.client.CoreV1().Services("default").Get(ctx, "web-app", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	svc.Spec.Ports[0].NodePort = 30081
	if _, err := p.client.CoreV1().Services("default").Update(ctx, svc, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	eventually(t, func() bool {
		return fileContains(svcFile, "<port>30081</port>")
	}, "service file never picked up the new port")

	files, err := p.store.ScanServiceFiles()
	if err != nil {
		t.Fatalf("ScanServiceFiles() error = %v", err)
	}
	if len(files) != 1 {
		t.Errorf("ScanServiceFiles() = %v, want exactly one file", files)
	}
}

func TestPipelineRemovesDeletedService(t *testing.T) {
	p := startPipeline(t, npService("default", "web-app", 30080, nil))

	svcFile := filepath.Join(p.store.ServicesDir(), "k8s-web-app.service")
	eventually(t, func() bool {
		return fileContains(svcFile, "<port>30080</port>")
	}, "service file never appeared")

	ctx := context.Background()
	if err := p.client.CoreV1().Services("default").Delete(ctx, "web-app", metav1.DeleteOptions{}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	eventually(t, func() bool {
		return fileAbsent(svcFile) && p.idx.Count() == 0
	}, "deleted service never cleaned up")
}

func TestPipelineHonorsDisableAnnotation(t *testing.T) {
	p := startPipeline(t, lbService("media", "jellyfin", "192.168.1.50", nil))

	eventually(t, func() bool {
		return fileContains(p.store.HostsFile(), "jellyfin.local")
	}, "service never advertised")

	ctx := context.Background()
	svc, err := p.client.CoreV1().Services("media").Get(ctx, "jellyfin", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if svc.Annotations == nil {
		svc.Annotations = map[string]string{}
	}
	svc.Annotations["avahi.local/enabled"] = "false"
	if _, err := p.client.CoreV1().Services("media").Update(ctx, svc, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	eventually(t, func() bool {
		return !fileContains(p.store.HostsFile(), "jellyfin.local") && p.idx.Count() == 0
	}, "disabled service never withdrawn")
}

func TestPipelineHealsTamperedSurfaces(t *testing.T) {
	p := startPipeline(t, lbService("media", "jellyfin", "192.168.1.50", nil))

	wantLine := "192.168.1.50 jellyfin.local # Managed by k8s-avahi-advertiser (media/jellyfin)"
	eventually(t, func() bool {
		return fileContains(p.store.HostsFile(), wantLine)
	}, "service never advertised")

	// simulate an operator edit plus a leftover from a dead advertiser
	tampered := "127.0.0.1 localhost\n" +
		"10.0.0.9 ghost.local # Managed by k8s-avahi-advertiser (media/ghost)\n"
	if err := os.WriteFile(p.store.HostsFile(), []byte(tampered), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	eventually(t, func() bool {
		return fileContains(p.store.HostsFile(), wantLine) &&
			fileContains(p.store.HostsFile(), "127.0.0.1 localhost") &&
			!fileContains(p.store.HostsFile(), "ghost.local")
	}, "resync never healed the tampered hosts file")
}
