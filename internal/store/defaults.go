// ABOUTME: The built-in agents every store starts with
// ABOUTME: Seeds are stamped in declaration order and are protected from deletion

package store

import "time"

// Default agent IDs
const (
	AgentAssistant  = "assistant"
	AgentResearcher = "researcher"
	AgentCoder      = "coder"
)

var defaultAgents = []InsertAgent{
	{
		Name:        "Assistant",
		Role:        "General AI Assistant",
		Description: "General AI assistant for various tasks",
		Color:       "hsl(221.2 83.2% 53.3%)",
		Avatar:      "A",
	},
	{
		Name:        "Researcher",
		Role:        "Research Specialist",
		Description: "Specialized in research and data analysis",
		Color:       "hsl(262.1 83.3% 57.8%)",
		Avatar:      "R",
	},
	{
		Name:        "Coder",
		Role:        "Programming Expert",
		Description: "Expert in programming and software development",
		Color:       "hsl(24.6 95% 53.1%)",
		Avatar:      "C",
	},
}

var defaultAgentIDs = []string{AgentAssistant, AgentResearcher, AgentCoder}

// DefaultAgentIDs returns the IDs of the seeded agents in seed order.
func DefaultAgentIDs() []string {
	ids := make([]string, len(defaultAgentIDs))
	copy(ids, defaultAgentIDs)
	return ids
}

// seedAgents builds the default agent records, drawing one stamp per agent.
func seedAgents(next func() time.Time) []*Agent {
	agents := make([]*Agent, len(defaultAgents))
	for i, in := range defaultAgents {
		agents[i] = &Agent{
			ID:          defaultAgentIDs[i],
			Name:        in.Name,
			Role:        in.Role,
			Description: in.Description,
			Color:       in.Color,
			Avatar:      in.Avatar,
			IsDefault:   true,
			CreatedAt:   next(),
		}
	}
	return agents
}
