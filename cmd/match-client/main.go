package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"sigs.k8s.io/yaml"

	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/matchservice"
)

func main() {
	var target string
	var domainName string
	var requirement string
	var capability string
	var requestFile string
	var timeout time.Duration
	flag.StringVar(&target, "target", "127.0.0.1:50051", "gRPC server address")
	flag.StringVar(&domainName, "domain", "manufacturing", "domain for -requirement/-capability")
	flag.StringVar(&requirement, "requirement", "", "requirement name to evaluate")
	flag.StringVar(&capability, "capability", "", "capability name to evaluate")
	flag.StringVar(&requestFile, "build", "", "YAML or JSON build request; when set, runs Build instead of Evaluate")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "call timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", target, err)
		os.Exit(1)
	}
	defer conn.Close()

	c := matchservice.NewClient(conn)

	var out any
	if requestFile != "" {
		out, err = build(ctx, c, requestFile)
	} else {
		out, err = c.Evaluate(ctx, matchservice.EvaluateRequest{
			Domain:      domainName,
			Requirement: matching.Requirement{Name: requirement},
			Capability:  matching.Capability{Name: capability},
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "call failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
		os.Exit(1)
	}
}

func build(ctx context.Context, c *matchservice.Client, path string) (matchservice.BuildResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return matchservice.BuildResponse{}, err
	}
	var req matchservice.BuildRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return matchservice.BuildResponse{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c.Build(ctx, req)
}
