// Package deploy provides the concrete Deployer DeployWorker dispatches to.
// The wire contract with the actual hosting provider is out of scope (see
// spec's interface-only DeployWorker); this package supplies the minimum
// viable implementation so the pipeline runs end-to-end: it reads the
// agent-authored deploy-intent.json for lane selection and computes a
// preview URL deterministically from the version id, base domain and lane.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// metadataDirName mirrors pkg/pipeline's hidden per-project directory name
// where the agent writes deploy-intent.json.
const metadataDirName = ".buildworker"

const deployIntentFileName = "deploy-intent.json"

// Intent is the agent-authored lane-selection artifact.
type Intent struct {
	Framework string   `json:"framework"`
	Lane      string   `json:"lane"` // static | edge | node
	Reasons   []string `json:"reasons"`
	Evidence  []string `json:"evidence"`
}

const defaultLane = "static"

// LocalDeployer computes a preview URL under baseDomain without calling out
// to a real hosting provider — the substitute for the out-of-scope
// Cloudflare Pages integration.
type LocalDeployer struct {
	baseDomain string
}

// NewLocalDeployer creates a LocalDeployer publishing preview URLs under
// baseDomain (e.g. "preview.example.com").
func NewLocalDeployer(baseDomain string) *LocalDeployer {
	return &LocalDeployer{baseDomain: baseDomain}
}

// Deploy reads projectPath's deploy-intent.json for lane selection and
// returns a deterministic preview URL. A missing or malformed
// deploy-intent.json falls back to the static lane rather than failing the
// deploy — lane selection is advisory, not load-bearing.
func (d *LocalDeployer) Deploy(ctx context.Context, buildID, versionID, projectPath string) (previewURL, lane string, err error) {
	intent, readErr := d.readIntent(projectPath)
	lane = defaultLane
	if readErr == nil && intent.Lane != "" {
		lane = intent.Lane
	}

	previewURL = fmt.Sprintf("https://%s.%s/%s", versionID, d.baseDomain, lane)
	return previewURL, lane, nil
}

func (d *LocalDeployer) readIntent(projectPath string) (*Intent, error) {
	data, err := os.ReadFile(filepath.Join(projectPath, metadataDirName, deployIntentFileName))
	if err != nil {
		return nil, err
	}
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("parse %s: %w", deployIntentFileName, err)
	}
	return &intent, nil
}
