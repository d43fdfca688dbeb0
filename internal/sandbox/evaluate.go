package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// evaluate scores a task against its expectation. A nil score means the
// task is unscored.
func (s *Sandbox) evaluate(ctx context.Context, tx *sql.Tx, t *taskRow, exp *Expectation) (*float64, string, error) {
	if exp.empty() {
		return nil, "no expectations defined", nil
	}

	var problems []string
	var err error
	switch t.kind {
	case KindStore:
		problems, err = s.evaluateStore(ctx, tx, t, exp)
	case KindDirectory:
		problems, err = s.evaluateDirectory(ctx, tx, t, exp)
	default:
		return nil, fmt.Sprintf("cannot evaluate benchmark kind %q", t.kind), nil
	}
	if err != nil {
		return nil, "", err
	}

	score := 1.0
	logs := "all expectations met"
	if len(problems) > 0 {
		score = 0
		logs = strings.Join(problems, "\n")
	}
	return &score, logs, nil
}

func (s *Sandbox) evaluateStore(ctx context.Context, tx *sql.Tx, t *taskRow, exp *Expectation) ([]string, error) {
	orders, err := s.orders(ctx, tx, t.id)
	if err != nil {
		return nil, err
	}

	var problems []string
	if exp.NoOrder {
		if len(orders) > 0 {
			problems = append(problems, fmt.Sprintf("expected no order, found %d", len(orders)))
		}
		return problems, nil
	}

	if len(orders) != 1 {
		return append(problems, fmt.Sprintf("expected exactly one order, found %d", len(orders))), nil
	}
	o := orders[0]

	got := make(map[string]int)
	for _, it := range o.Items {
		got[it.SKU] += it.Quantity
	}
	want := make(map[string]int)
	for _, l := range exp.Order {
		want[l.SKU] += l.Quantity
	}
	for sku, q := range want {
		if got[sku] != q {
			problems = append(problems, fmt.Sprintf("expected %dx %s, ordered %d", q, sku, got[sku]))
		}
	}
	for sku, q := range got {
		if _, ok := want[sku]; !ok {
			problems = append(problems, fmt.Sprintf("unexpected %dx %s in order", q, sku))
		}
	}
	if exp.Coupon != "" && !strings.EqualFold(o.Coupon, exp.Coupon) {
		problems = append(problems, fmt.Sprintf("expected coupon %s, order used %q", exp.Coupon, o.Coupon))
	}
	return problems, nil
}

func (s *Sandbox) evaluateDirectory(ctx context.Context, tx *sql.Tx, t *taskRow, exp *Expectation) ([]string, error) {
	r, err := s.lastResponse(ctx, tx, t.id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return []string{"no response recorded"}, nil
	}

	var problems []string
	if exp.Outcome != "" && r.Outcome != exp.Outcome {
		problems = append(problems, fmt.Sprintf("expected outcome %s, got %s", exp.Outcome, r.Outcome))
	}
	for _, c := range exp.Contains {
		if !contains(r.Message, c) {
			problems = append(problems, fmt.Sprintf("answer does not mention %q", c))
		}
	}
	for _, want := range exp.Links {
		found := false
		for _, l := range r.Links {
			if strings.EqualFold(l.Kind, want.Kind) && strings.EqualFold(l.ID, want.ID) {
				found = true
				break
			}
		}
		if !found {
			problems = append(problems, fmt.Sprintf("missing link %s/%s", want.Kind, want.ID))
		}
	}
	return problems, nil
}
