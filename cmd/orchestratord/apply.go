package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/orchestrator/controlplane/pkg/jobstore"
	"github.com/orchestrator/controlplane/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// jobManifest is the YAML document `orchestratord apply` reads: a
// declarative Job submission, analogous to a Kubernetes manifest with a
// Kind and a Spec.
type jobManifest struct {
	APIVersion string          `yaml:"apiVersion"`
	Kind       string          `yaml:"kind"`
	Metadata   manifestMeta    `yaml:"metadata"`
	Spec       jobManifestSpec `yaml:"spec"`
}

type manifestMeta struct {
	Namespace string            `yaml:"namespace"`
	Name      string            `yaml:"name"`
	Labels    map[string]string `yaml:"labels,omitempty"`
}

type jobManifestSpec struct {
	Command      []string          `yaml:"command"`
	Env          map[string]string `yaml:"env,omitempty"`
	WorkDir      string            `yaml:"workDir,omitempty"`
	CPUCores     float64           `yaml:"cpuCores,omitempty"`
	MemoryBytes  int64             `yaml:"memoryBytes,omitempty"`
	DiskBytes    int64             `yaml:"diskBytes,omitempty"`
	Capabilities map[string]string `yaml:"capabilities,omitempty"`
	Priority     int               `yaml:"priority,omitempty"`
	MaxAttempts  int               `yaml:"maxAttempts,omitempty"`
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit a Job from a YAML manifest to a running node's admin endpoint",
	Long: `apply reads a declarative Job manifest and submits it to a running
orchestratord node over its admin HTTP endpoint.

Example:
  orchestratord apply -f job.yaml --admin-addr 127.0.0.1:9090`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("admin-addr", "127.0.0.1:9090", "Admin address of a running node")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	adminAddr, _ := cmd.Flags().GetString("admin-addr")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var manifest jobManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if manifest.Kind != "Job" {
		return fmt.Errorf("unsupported resource kind: %s", manifest.Kind)
	}

	def := jobstore.Definition{
		Namespace: manifest.Metadata.Namespace,
		Name:      manifest.Metadata.Name,
		Labels:    manifest.Metadata.Labels,
		Content: types.JobContent{
			Command: manifest.Spec.Command,
			Env:     manifest.Spec.Env,
			WorkDir: manifest.Spec.WorkDir,
		},
		Resources: types.ResourceUnits{
			CPUCores:    manifest.Spec.CPUCores,
			MemoryBytes: manifest.Spec.MemoryBytes,
			DiskBytes:   manifest.Spec.DiskBytes,
		},
		Capabilities: manifest.Spec.Capabilities,
		Priority:     types.JobPriority(manifest.Spec.Priority),
	}
	if manifest.Spec.MaxAttempts > 0 {
		def.Retry = types.RetryPolicy{MaxAttempts: manifest.Spec.MaxAttempts, BaseDelay: 2 * time.Second, Multiplier: 2.0}
	}

	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode job definition: %w", err)
	}

	resp, err := http.Post(fmt.Sprintf("http://%s/admin/jobs", adminAddr), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit rejected: status %s", resp.Status)
	}

	fmt.Printf("job submitted: %s/%s\n", def.Namespace, def.Name)
	return nil
}
