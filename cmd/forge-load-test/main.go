package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	forgev1alpha1 "github.com/anvil-platform/forge/api/v1alpha1"
)

var (
	scheme = runtime.NewScheme()
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(forgev1alpha1.AddToScheme(scheme))
}

func main() {
	var kubeconfig string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	} else {
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	flag.StringVar(&kubeconfig, "kubeconfig", kubeconfig, "absolute path to the kubeconfig file")

	var numRequests int
	var namespace string
	var domainName string
	var requirements string
	var specFile string
	var timeout time.Duration

	flag.IntVar(&numRequests, "requests", 10, "Number of SupplyRequests to create")
	flag.StringVar(&namespace, "namespace", "default", "Namespace to create requests in")
	flag.StringVar(&domainName, "domain", "manufacturing", "Domain of the generated requests")
	flag.StringVar(&requirements, "requirements", "milling,welding", "Comma-separated requirements, each after the previous one")
	flag.StringVar(&specFile, "spec", "", "YAML SupplyRequest spec to use instead of -domain/-requirements")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for each request")
	flag.Parse()

	spec, err := requestSpec(specFile, domainName, requirements)
	if err != nil {
		log.Fatalf("Error building request spec: %v", err)
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		log.Fatalf("Error building kubeconfig: %v", err)
	}

	k8sClient, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		log.Fatalf("Error creating client: %v", err)
	}

	fmt.Printf("Starting load test: %d supply requests in namespace %s\n", numRequests, namespace)

	var wg sync.WaitGroup
	start := time.Now()
	latencies := make(chan time.Duration, numRequests)
	var phasesMu sync.Mutex
	phases := map[string]int{}

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("load-test-request-%d-%d", time.Now().Unix(), id)

			sr := &forgev1alpha1.SupplyRequest{
				ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
			}
			spec.DeepCopyInto(&sr.Spec)

			createStart := time.Now()
			if err := k8sClient.Create(context.Background(), sr); err != nil {
				fmt.Printf("Error creating request %s: %v\n", name, err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			for {
				select {
				case <-ctx.Done():
					fmt.Printf("Timeout waiting for request %s\n", name)
					return
				case <-time.After(1 * time.Second):
					var current forgev1alpha1.SupplyRequest
					if err := k8sClient.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, &current); err != nil {
						continue
					}
					if current.Status.ObservedGeneration < current.Generation || current.Status.Phase == "" {
						continue
					}
					latency := time.Since(createStart)
					latencies <- latency
					phasesMu.Lock()
					phases[current.Status.Phase]++
					phasesMu.Unlock()
					fmt.Printf("Request %s %s in %v (%d solutions)\n", name, current.Status.Phase, latency, current.Status.SolutionCount)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(latencies)
	totalDuration := time.Since(start)

	all := make([]time.Duration, 0, numRequests)
	for l := range latencies {
		all = append(all, l)
	}
	if len(all) == 0 {
		fmt.Printf("Load test completed in %v. No requests were resolved.\n", totalDuration)
		return
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	var total time.Duration
	for _, l := range all {
		total += l
	}
	fmt.Printf("Load test completed in %v. Resolved %d/%d; avg %v, p50 %v, max %v; phases %v\n",
		totalDuration, len(all), numRequests, total/time.Duration(len(all)), all[len(all)/2], all[len(all)-1], phases)
}

func requestSpec(path, domainName, requirements string) (*forgev1alpha1.SupplyRequestSpec, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var spec forgev1alpha1.SupplyRequestSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &spec, nil
	}
	spec := &forgev1alpha1.SupplyRequestSpec{Domain: domainName}
	prev := ""
	for _, name := range strings.Split(requirements, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		r := forgev1alpha1.RequirementSpec{Name: name}
		if prev != "" {
			r.After = []string{prev}
		}
		spec.Requirements = append(spec.Requirements, r)
		prev = name
	}
	if len(spec.Requirements) == 0 {
		return nil, fmt.Errorf("no requirements given")
	}
	return spec, nil
}
