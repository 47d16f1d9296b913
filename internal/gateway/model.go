package gateway

import (
	"fmt"
	"strings"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
)

const defaultAgentID = "default"

// target is the routing decision parsed out of a chat request: either a
// deployment id, or an (agent, model) pair.
type target struct {
	AgentID      string
	Model        string
	DeploymentID string
}

var deploymentPrefixes = []string{
	"anotherai/deployment/",
	"anotherai/deployments/",
	"deployment/",
}

// parseTarget resolves the model string and the top-level extension fields
// into a routing target. Precedence: explicit deployment_id, a deployment
// prefix in the model string, then `<agent>/<model>` or a bare model id.
func parseTarget(req *chatRequest, models *catalog.Catalog) (target, error) {
	agentID := req.AgentID
	if agentID == "" {
		if v, ok := req.Metadata["agent_id"].(string); ok {
			agentID = v
		}
	}

	if req.DeploymentID != "" {
		return target{AgentID: agentID, DeploymentID: req.DeploymentID}, nil
	}
	model := strings.TrimSpace(req.Model)
	for _, prefix := range deploymentPrefixes {
		if id, ok := strings.CutPrefix(model, prefix); ok {
			if id == "" {
				return target{}, fmt.Errorf("model %q names no deployment id", req.Model)
			}
			return target{AgentID: agentID, DeploymentID: id}, nil
		}
	}
	if strings.Contains(model, "#") {
		return target{}, fmt.Errorf(
			"model %q uses the retired schema/environment form; use anotherai/deployment/<id>", req.Model)
	}
	if model == "" {
		return target{}, fmt.Errorf("model is required")
	}

	// A full catalog match wins over the `<agent>/<model>` split so model ids
	// containing slashes keep working.
	if _, ok := models.Get(model); ok {
		return target{AgentID: orDefault(agentID), Model: model}, nil
	}
	if agent, rest, ok := strings.Cut(model, "/"); ok && agent != "" && rest != "" {
		if agentID == "" {
			agentID = agent
		}
		return target{AgentID: agentID, Model: rest}, nil
	}
	return target{AgentID: orDefault(agentID), Model: model}, nil
}

func orDefault(agentID string) string {
	if agentID == "" {
		return defaultAgentID
	}
	return agentID
}
