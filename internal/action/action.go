// Package action defines the decisions an agent can return and the static
// discriminator table used to route them.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an action by how the loop handles it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindBackend actions go to the benchmark backend through the dispatcher.
	KindBackend
	// KindMeta actions delegate to a sub-agent.
	KindMeta
	// KindTerminal actions end the agent loop.
	KindTerminal
	// KindInternal actions are answered locally without a backend request.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindBackend:
		return "backend"
	case KindMeta:
		return "meta"
	case KindTerminal:
		return "terminal"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// Store backend tools.
const (
	ListProducts     = "/products/list"
	ViewBasket       = "/basket/view"
	AddToBasket      = "/basket/add"
	RemoveFromBasket = "/basket/remove"
	ApplyCoupon      = "/coupon/apply"
	RemoveCoupon     = "/coupon/remove"
	Checkout         = "/basket/checkout"

	// Composite tools built from several backend requests.
	GetAllProducts = "get_all_products"
	SetBasket      = "set_basket"
)

// Directory backend tools.
const (
	ListEmployees   = "/employees/list"
	SearchEmployees = "/employees/search"
	GetEmployee     = "/employees/get"
	ListProjects    = "/projects/list"
	SearchProjects  = "/projects/search"
	GetProject      = "/projects/get"
	WhoAmI          = "/whoami"
	Respond         = "/respond"

	LoadRespondInstructions = "load_respond_instructions"
)

// Delegation tools.
const (
	DelegateProductExplorer   = "product_explorer"
	DelegateCouponOptimizer   = "coupon_optimizer"
	DelegateBasketBuilder     = "basket_builder"
	DelegateCheckoutProcessor = "checkout_processor"
)

// Terminal tools.
const (
	SubmitTask   = "submit_task"
	CompleteTask = "complete_task"
	RefuseTask   = "refuse_task"
)

var kinds = map[string]Kind{
	ListProducts:     KindBackend,
	ViewBasket:       KindBackend,
	AddToBasket:      KindBackend,
	RemoveFromBasket: KindBackend,
	ApplyCoupon:      KindBackend,
	RemoveCoupon:     KindBackend,
	Checkout:         KindBackend,
	GetAllProducts:   KindBackend,
	SetBasket:        KindBackend,

	ListEmployees:   KindBackend,
	SearchEmployees: KindBackend,
	GetEmployee:     KindBackend,
	ListProjects:    KindBackend,
	SearchProjects:  KindBackend,
	GetProject:      KindBackend,
	WhoAmI:          KindBackend,
	Respond:         KindTerminal,

	LoadRespondInstructions: KindInternal,

	DelegateProductExplorer:   KindMeta,
	DelegateCouponOptimizer:   KindMeta,
	DelegateBasketBuilder:     KindMeta,
	DelegateCheckoutProcessor: KindMeta,

	SubmitTask:   KindTerminal,
	CompleteTask: KindTerminal,
	RefuseTask:   KindTerminal,
}

// Composite reports whether tool is assembled from several backend requests
// rather than forwarded as one.
func Composite(tool string) bool {
	return tool == GetAllProducts || tool == SetBasket
}

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInvalidCall = errors.New("invalid call")
)

// KindOf looks tool up in the discriminator table.
func KindOf(tool string) Kind {
	return kinds[tool]
}

// Action is one tool invocation proposed by an agent. The raw JSON object is
// kept so that backend requests can be forwarded without a lossy round trip.
type Action struct {
	Tool string
	raw  json.RawMessage
}

// New builds an action for tool with the given parameters.
func New(tool string, params map[string]interface{}) Action {
	obj := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		obj[k] = v
	}
	obj["tool"] = tool
	raw, _ := json.Marshal(obj)
	return Action{Tool: tool, raw: raw}
}

// Kind returns the action's routing class.
func (a Action) Kind() Kind {
	return KindOf(a.Tool)
}

// Decode unmarshals the action's fields into v.
func (a Action) Decode(v interface{}) error {
	if len(a.raw) == 0 {
		return fmt.Errorf("%w: empty %s action", ErrInvalidCall, a.Tool)
	}
	if err := json.Unmarshal(a.raw, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrInvalidCall, a.Tool, err)
	}
	return nil
}

// Params returns the action's fields without the discriminator.
func (a Action) Params() map[string]interface{} {
	m := make(map[string]interface{})
	if len(a.raw) > 0 {
		_ = json.Unmarshal(a.raw, &m)
	}
	delete(m, "tool")
	return m
}

// Raw returns the action as sent by the agent, discriminator included.
func (a Action) Raw() json.RawMessage {
	if len(a.raw) == 0 {
		b, _ := json.Marshal(map[string]string{"tool": a.Tool})
		return b
	}
	return a.raw
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var head struct {
		Tool string `json:"tool"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	a.Tool = head.Tool
	a.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	return a.Raw(), nil
}
