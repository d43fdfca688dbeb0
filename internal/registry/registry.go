// Package registry holds the agent and validator configurations of each
// benchmark and resolves delegation tools to the agents they start.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/llmcall"
	"github.com/vinayprograms/benchagent/internal/sandbox"
	"github.com/vinayprograms/benchagent/internal/supervision"
)

// ErrUnknownAgent is returned for agent names and delegation tools with no
// registered agent.
var ErrUnknownAgent = errors.New("unknown agent")

// Mode selects how an agent's actions are routed.
type Mode string

const (
	// ModeSDK agents call the backend directly.
	ModeSDK Mode = "sdk"
	// ModeMeta agents delegate to other agents.
	ModeMeta Mode = "meta"
)

// Style selects the assistant turn recorded after a backend step.
type Style int

const (
	// StylePlanned records "Planned step" turns.
	StylePlanned Style = iota
	// StyleCompleted records "Step completed" turns.
	StyleCompleted
)

// Agent is the immutable configuration of one agent.
type Agent struct {
	Name         string
	SystemPrompt string
	Schema       llmcall.Schema
	MaxSteps     int
	Mode         Mode
	// Leaf agents answer with a single call over a prefetched catalog.
	Leaf  bool
	Tools []string
	Batch bool
	Style Style
}

// Allows reports whether tool is offered to the agent.
func (a *Agent) Allows(tool string) bool {
	for _, t := range a.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// Registry is the agent set of one benchmark.
type Registry struct {
	Benchmark  string
	Entry      string
	Validators []supervision.Binding
	agents     map[string]*Agent
	delegates  map[string]string
}

func newRegistry(benchmark, entry string, agents []*Agent, delegates map[string]string, validators []supervision.Binding) *Registry {
	r := &Registry{
		Benchmark:  benchmark,
		Entry:      entry,
		Validators: validators,
		agents:     make(map[string]*Agent, len(agents)),
		delegates:  delegates,
	}
	for _, a := range agents {
		r.agents[a.Name] = a
	}
	return r
}

// For returns the registry for a benchmark kind.
func For(kind string) (*Registry, error) {
	switch kind {
	case sandbox.KindStore:
		return Store(), nil
	case sandbox.KindDirectory:
		return Directory(), nil
	}
	return nil, fmt.Errorf("no agents registered for benchmark kind %q", kind)
}

// Agent looks an agent up by name.
func (r *Registry) Agent(name string) (*Agent, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return a, nil
}

// EntryAgent is the agent a task run starts with.
func (r *Registry) EntryAgent() *Agent {
	return r.agents[r.Entry]
}

// Delegate resolves a delegation tool to its agent.
func (r *Registry) Delegate(tool string) (*Agent, error) {
	name, ok := r.delegates[tool]
	if !ok {
		return nil, fmt.Errorf("%w: no agent behind %s", ErrUnknownAgent, tool)
	}
	return r.Agent(name)
}

// Names lists the registered agents in name order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Store agent names.
const (
	Orchestrator      = "Orchestrator"
	ProductExplorer   = "ProductExplorer"
	BasketBuilder     = "BasketBuilder"
	CheckoutProcessor = "CheckoutProcessor"
	CouponOptimizer   = "CouponOptimizer"
)

// DirectoryAgent is the single agent of the directory benchmark.
const DirectoryAgent = "Agent"

// StepValidator is the name shared by the plan validators.
const StepValidator = "StepValidator"

// Store builds the store benchmark registry: an orchestrator delegating to
// specialised sub-agents.
func Store() *Registry {
	orchestratorTools := []string{
		action.DelegateProductExplorer,
		action.DelegateBasketBuilder,
		action.DelegateCouponOptimizer,
		action.DelegateCheckoutProcessor,
		action.SubmitTask,
	}
	basketTools := []string{action.SetBasket, action.SubmitTask}
	checkoutTools := []string{action.ViewBasket, action.Checkout, action.SubmitTask}
	couponTools := []string{action.ViewBasket, action.ApplyCoupon, action.RemoveCoupon, action.SubmitTask}

	agents := []*Agent{
		{
			Name:         Orchestrator,
			SystemPrompt: orchestratorPrompt,
			Schema:       decisionSchema("NextStepOrchestrator", orchestratorTools, false),
			MaxSteps:     30,
			Mode:         ModeMeta,
			Tools:        orchestratorTools,
		},
		{
			Name:         ProductExplorer,
			SystemPrompt: productExplorerPrompt,
			Schema:       reportSchema,
			MaxSteps:     1,
			Mode:         ModeSDK,
			Leaf:         true,
			Tools:        []string{action.GetAllProducts},
		},
		{
			Name:         BasketBuilder,
			SystemPrompt: basketBuilderPrompt,
			Schema:       decisionSchema("NextStepBasketBuilder", basketTools, false),
			MaxSteps:     10,
			Mode:         ModeSDK,
			Tools:        basketTools,
		},
		{
			Name:         CheckoutProcessor,
			SystemPrompt: checkoutProcessorPrompt,
			Schema:       decisionSchema("NextStepCheckoutProcessor", checkoutTools, false),
			MaxSteps:     10,
			Mode:         ModeSDK,
			Tools:        checkoutTools,
		},
		{
			Name:         CouponOptimizer,
			SystemPrompt: couponOptimizerPrompt,
			Schema:       decisionSchema("NextStepCouponOptimizer", couponTools, true),
			MaxSteps:     10,
			Mode:         ModeSDK,
			Tools:        couponTools,
			Batch:        true,
		},
	}
	delegates := map[string]string{
		action.DelegateProductExplorer:   ProductExplorer,
		action.DelegateBasketBuilder:     BasketBuilder,
		action.DelegateCheckoutProcessor: CheckoutProcessor,
		action.DelegateCouponOptimizer:   CouponOptimizer,
	}
	validators := []supervision.Binding{{
		Name:         StepValidator,
		Tools:        orchestratorTools,
		Agents:       []string{Orchestrator},
		MaxAttempts:  2,
		SystemPrompt: planValidatorPrompt,
		Prompt:       supervision.PlanPrompt,
	}}
	return newRegistry(sandbox.KindStore, Orchestrator, agents, delegates, validators)
}

// Directory builds the directory benchmark registry: one agent answering
// questions about employees and projects.
func Directory() *Registry {
	lookups := []string{
		action.ListEmployees,
		action.SearchEmployees,
		action.GetEmployee,
		action.ListProjects,
		action.SearchProjects,
		action.GetProject,
		action.WhoAmI,
		action.LoadRespondInstructions,
	}
	tools := append(append([]string{}, lookups...), action.Respond)

	agents := []*Agent{{
		Name:         DirectoryAgent,
		SystemPrompt: directoryAgentPrompt,
		Schema:       decisionSchema("AgentStep", tools, false),
		MaxSteps:     40,
		Mode:         ModeSDK,
		Tools:        tools,
		Style:        StyleCompleted,
	}}
	validators := []supervision.Binding{{
		Name:         StepValidator,
		Tools:        lookups,
		Agents:       []string{DirectoryAgent},
		MaxAttempts:  1,
		SystemPrompt: transcriptValidatorPrompt,
		Revise:       "Please revise your approach.",
		Prompt:       supervision.TranscriptPrompt,
	}}
	return newRegistry(sandbox.KindDirectory, DirectoryAgent, agents, map[string]string{}, validators)
}
