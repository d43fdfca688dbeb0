package sandbox

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Benchmark kinds.
const (
	KindStore     = "store"
	KindDirectory = "directory"
)

// DefaultPageLimit caps list pages in the directory benchmark.
const DefaultPageLimit = 5

//go:embed fixtures/*.yaml
var builtin embed.FS

// Coupon is a discount code known to the store.
type Coupon struct {
	Code        string  `yaml:"code"`
	Percent     float64 `yaml:"percent"`
	MinSubtotal float64 `yaml:"min_subtotal"`
}

// OrderLine is an expected product quantity.
type OrderLine struct {
	SKU      string `yaml:"sku"`
	Quantity int    `yaml:"quantity"`
}

// Expectation describes what a correct run leaves behind.
type Expectation struct {
	// Store
	Order   []OrderLine `yaml:"order"`
	Coupon  string      `yaml:"coupon"`
	NoOrder bool        `yaml:"no_order"`

	// Directory
	Outcome  string   `yaml:"outcome"`
	Contains []string `yaml:"contains"`
	Links    []Link   `yaml:"links"`
}

func (e *Expectation) empty() bool {
	return e == nil || (len(e.Order) == 0 && e.Coupon == "" && !e.NoOrder &&
		e.Outcome == "" && len(e.Contains) == 0 && len(e.Links) == 0)
}

// Fixture is the world a task starts in. Benchmark-level values apply to
// every task unless the task sets its own.
type Fixture struct {
	Products  []Product  `yaml:"products"`
	Coupons   []Coupon   `yaml:"coupons"`
	Employees []Employee `yaml:"employees"`
	Projects  []Project  `yaml:"projects"`
	PageLimit int        `yaml:"page_limit"`
	User      string     `yaml:"user"`
	Rules     string     `yaml:"rules"`
}

// TaskSpec is one benchmark task.
type TaskSpec struct {
	Text    string `yaml:"text"`
	Fixture `yaml:",inline"`
	Expect  *Expectation `yaml:"expect"`
}

// Benchmark is a named task list over a shared fixture.
type Benchmark struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	Description string `yaml:"description"`
	Fixture     `yaml:",inline"`
	Tasks       []TaskSpec `yaml:"tasks"`
}

// fixtureFor merges the task's overrides onto the benchmark fixture.
func (b *Benchmark) fixtureFor(idx int) Fixture {
	f := b.Fixture
	t := b.Tasks[idx].Fixture
	if len(t.Products) > 0 {
		f.Products = t.Products
	}
	if len(t.Coupons) > 0 {
		f.Coupons = t.Coupons
	}
	if len(t.Employees) > 0 {
		f.Employees = t.Employees
	}
	if len(t.Projects) > 0 {
		f.Projects = t.Projects
	}
	if t.PageLimit > 0 {
		f.PageLimit = t.PageLimit
	}
	if t.User != "" {
		f.User = t.User
	}
	if t.Rules != "" {
		f.Rules = t.Rules
	}
	if f.PageLimit <= 0 {
		f.PageLimit = DefaultPageLimit
	}
	return f
}

// Info summarises the benchmark.
func (b *Benchmark) Info() *BenchmarkInfo {
	info := &BenchmarkInfo{Name: b.Name, Kind: b.Kind, Description: b.Description}
	for i, t := range b.Tasks {
		info.Tasks = append(info.Tasks, TaskSummary{Index: i, Text: t.Text})
	}
	return info
}

func (b *Benchmark) validate() error {
	if b.Name == "" {
		return fmt.Errorf("benchmark has no name")
	}
	switch b.Kind {
	case KindStore, KindDirectory:
	default:
		return fmt.Errorf("benchmark %s: unknown kind %q", b.Name, b.Kind)
	}
	if len(b.Tasks) == 0 {
		return fmt.Errorf("benchmark %s: no tasks", b.Name)
	}
	for i, t := range b.Tasks {
		if strings.TrimSpace(t.Text) == "" {
			return fmt.Errorf("benchmark %s: task %d has no text", b.Name, i)
		}
	}
	return nil
}

// ParseBenchmark decodes a YAML benchmark definition.
func ParseBenchmark(data []byte) (*Benchmark, error) {
	var b Benchmark
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing benchmark: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadBenchmark reads a YAML benchmark definition from path.
func LoadBenchmark(path string) (*Benchmark, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := ParseBenchmark(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// LoadBenchmarks returns the built-in benchmarks plus every *.yaml file in
// dir (when set). Files in dir replace built-ins of the same name.
func LoadBenchmarks(dir string) (map[string]*Benchmark, error) {
	out := make(map[string]*Benchmark)

	entries, err := builtin.ReadDir("fixtures")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		data, err := builtin.ReadFile("fixtures/" + e.Name())
		if err != nil {
			return nil, err
		}
		b, err := ParseBenchmark(data)
		if err != nil {
			return nil, fmt.Errorf("built-in %s: %w", e.Name(), err)
		}
		out[b.Name] = b
	}

	if dir == "" {
		return out, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	for _, p := range paths {
		b, err := LoadBenchmark(p)
		if err != nil {
			return nil, err
		}
		out[b.Name] = b
	}
	return out, nil
}
