package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/sandbox"
	"github.com/vinayprograms/benchagent/internal/trace"
)

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// getAllProducts walks the catalog page by page until next_offset runs out.
// The first failing page ends the walk.
func (d *Dispatcher) getAllProducts(ctx context.Context) (string, trace.ToolCall) {
	request := map[string]interface{}{"tool": action.GetAllProducts}

	var products []sandbox.Product
	offset, pages := 0, 0
	for {
		var page sandbox.ProductPage
		if err := d.WithRetry(ctx, sandbox.ListProductsRequest{Offset: offset}, &page); err != nil {
			text, resp := renderError(err)
			resp["pages_fetched"] = pages
			return text, trace.ToolCall{Request: request, Response: resp}
		}
		pages++
		products = append(products, page.Products...)
		if page.NextOffset <= 0 {
			break
		}
		offset = page.NextOffset
	}

	listed := make([]map[string]interface{}, 0, len(products))
	for _, p := range products {
		listed = append(listed, map[string]interface{}{
			"sku":       p.SKU,
			"name":      p.Name,
			"price":     p.Price,
			"available": p.Available,
		})
	}
	tc := trace.ToolCall{
		Request:  request,
		Response: map[string]interface{}{"products": listed, "pages_fetched": pages},
	}
	if len(products) == 0 {
		return "No products found in catalog.", tc
	}

	lines := []string{"Products:"}
	for _, p := range products {
		lines = append(lines, fmt.Sprintf("  %s | %s | price=%s | stock=%d", p.SKU, p.Name, num(p.Price), p.Available))
	}
	return strings.Join(lines, "\n"), tc
}

type basketLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type setBasketParams struct {
	Products []basketLine `json:"products"`
	Coupons  []string     `json:"coupons"`
}

type couponTest struct {
	Coupon   string
	Valid    bool
	Discount float64
	Subtotal float64
	Total    float64
	Error    string
}

func (c couponTest) record() map[string]interface{} {
	if !c.Valid {
		return map[string]interface{}{"coupon": c.Coupon, "valid": false, "error": c.Error}
	}
	return map[string]interface{}{
		"coupon":   c.Coupon,
		"valid":    true,
		"discount": c.Discount,
		"subtotal": c.Subtotal,
		"total":    c.Total,
	}
}

// basketRun accumulates what set_basket did so far.
type basketRun struct {
	params        setBasketParams
	cleared       []basketLine
	clearedCoupon string
	added         []basketLine
	appliedCoupon string
	tests         []couponTest
	bestDiscount  float64
	err           string
}

// setBasket replaces the basket contents, then tries every candidate coupon
// and keeps the one with the largest discount. Nothing is rolled back on
// failure.
func (d *Dispatcher) setBasket(ctx context.Context, a action.Action) (string, trace.ToolCall) {
	run := &basketRun{}
	if err := a.Decode(&run.params); err != nil {
		text, resp := renderError(err)
		return text, trace.ToolCall{Request: requestOf(a), Response: resp}
	}

	var current sandbox.Basket
	if err := d.WithRetry(ctx, sandbox.ViewBasketRequest{}, &current); err == nil {
		for _, it := range current.Items {
			run.cleared = append(run.cleared, basketLine{SKU: it.SKU, Quantity: it.Quantity})
		}
		run.clearedCoupon = current.Coupon
	}

	for _, it := range run.cleared {
		if err := d.Once(ctx, sandbox.RemoveFromBasketRequest{SKU: it.SKU, Quantity: it.Quantity}, nil); err != nil {
			run.err = fmt.Sprintf("Failed to remove %s: %s", it.SKU, err.Error())
			return d.basketReport(ctx, run)
		}
	}

	if run.clearedCoupon != "" {
		if err := d.Once(ctx, sandbox.RemoveCouponRequest{}, nil); err != nil {
			run.err = fmt.Sprintf("Failed to remove coupon %s: %s", run.clearedCoupon, err.Error())
			return d.basketReport(ctx, run)
		}
	}

	for _, it := range run.params.Products {
		if err := d.Once(ctx, sandbox.AddToBasketRequest{SKU: it.SKU, Quantity: it.Quantity}, nil); err != nil {
			run.err = fmt.Sprintf("Failed to add %s: %s", it.SKU, err.Error())
			return d.basketReport(ctx, run)
		}
		run.added = append(run.added, it)
	}

	best := ""
	for _, code := range run.params.Coupons {
		test := couponTest{Coupon: code}
		var basket sandbox.Basket
		err := d.Once(ctx, sandbox.ApplyCouponRequest{Coupon: code}, nil)
		if err == nil {
			err = d.WithRetry(ctx, sandbox.ViewBasketRequest{}, &basket)
		}
		if err == nil {
			test.Valid = true
			test.Discount = basket.Discount
			test.Subtotal = basket.Subtotal
			test.Total = basket.Total
			if basket.Discount > run.bestDiscount {
				run.bestDiscount = basket.Discount
				best = code
			}
			err = d.Once(ctx, sandbox.RemoveCouponRequest{}, nil)
		}
		if err != nil && !test.Valid {
			test.Error = err.Error()
		}
		run.tests = append(run.tests, test)
	}

	if best != "" && run.bestDiscount > 0 {
		if err := d.Once(ctx, sandbox.ApplyCouponRequest{Coupon: best}, nil); err != nil {
			run.err = fmt.Sprintf("Failed to re-apply best coupon %s: %s", best, err.Error())
			return d.basketReport(ctx, run)
		}
		run.appliedCoupon = best
	}

	return d.basketReport(ctx, run)
}

func (d *Dispatcher) basketReport(ctx context.Context, run *basketRun) (string, trace.ToolCall) {
	var lines []string

	if len(run.cleared) > 0 || run.clearedCoupon != "" {
		lines = append(lines, "Cleared from basket:")
		for _, p := range run.cleared {
			lines = append(lines, fmt.Sprintf("  - %dx %s", p.Quantity, p.SKU))
		}
		if run.clearedCoupon != "" {
			lines = append(lines, "  - Coupon: "+run.clearedCoupon)
		}
		if len(run.cleared) == 0 {
			lines = append(lines, "  - (no products)")
		}
	} else {
		lines = append(lines, "Basket was already empty.")
	}
	lines = append(lines, "")

	if len(run.added) > 0 {
		lines = append(lines, "Added to basket:")
		for _, p := range run.added {
			lines = append(lines, fmt.Sprintf("  - %dx %s", p.Quantity, p.SKU))
		}
	} else {
		lines = append(lines, "No products added (basket cleared).")
	}

	if len(run.tests) > 0 {
		lines = append(lines, "\n"+strings.Repeat("=", 30), "Coupon Test Results:")
		anyValid := false
		for _, t := range run.tests {
			switch {
			case !t.Valid:
				lines = append(lines, fmt.Sprintf("  %s: Invalid - %s", t.Coupon, t.Error))
			case t.Discount > 0:
				anyValid = true
				pct := 0.0
				if t.Subtotal > 0 {
					pct = t.Discount / t.Subtotal * 100
				}
				lines = append(lines, fmt.Sprintf("  %s: $%s discount (%.1f%%), Total: $%s", t.Coupon, num(t.Discount), pct, num(t.Total)))
			default:
				anyValid = true
				lines = append(lines, fmt.Sprintf("  %s: Valid but no discount (Total: $%s)", t.Coupon, num(t.Total)))
			}
		}
		lines = append(lines, "")
		switch {
		case run.appliedCoupon != "":
			lines = append(lines, fmt.Sprintf("→ Best coupon applied: %s (saves $%s)", run.appliedCoupon, num(run.bestDiscount)))
		case anyValid:
			lines = append(lines, "→ No coupon applied (all valid coupons provide zero discount)")
		default:
			lines = append(lines, "→ No coupon applied (all coupons invalid)")
		}
	}

	if run.err != "" {
		lines = append(lines, "\nERROR: "+run.err, "Operation stopped at this point. Basket may be in partial state.")
	}

	lines = append(lines, "\n"+strings.Repeat("-", 30), "Final Basket State:")
	var final interface{}
	var basket sandbox.Basket
	if err := d.WithRetry(ctx, sandbox.ViewBasketRequest{}, &basket); err != nil {
		lines = append(lines, "  Error fetching final state: "+err.Error())
		final = map[string]interface{}{"error": err.Error()}
	} else if len(basket.Items) > 0 {
		for _, it := range basket.Items {
			lines = append(lines, fmt.Sprintf("  - %dx %s @ %s each", it.Quantity, it.SKU, num(it.Price)))
		}
		lines = append(lines, "  Subtotal: "+num(basket.Subtotal))
		if basket.Coupon != "" {
			lines = append(lines, "  Coupon: "+basket.Coupon)
		}
		if basket.Discount != 0 {
			lines = append(lines, "  Discount: -"+num(basket.Discount))
		}
		lines = append(lines, "  Total: "+num(basket.Total))
		final = basket
	} else {
		lines = append(lines, "  (empty)")
		final = map[string]interface{}{"items": []interface{}{}, "subtotal": 0, "total": 0}
	}

	tests := make([]map[string]interface{}, 0, len(run.tests))
	for _, t := range run.tests {
		tests = append(tests, t.record())
	}
	var best interface{}
	if run.appliedCoupon != "" {
		best = map[string]interface{}{"coupon": run.appliedCoupon, "discount": run.bestDiscount}
	}
	var clearedCoupon interface{}
	if run.clearedCoupon != "" {
		clearedCoupon = run.clearedCoupon
	}
	response := map[string]interface{}{
		"cleared":      map[string]interface{}{"products": lineRecords(run.cleared), "coupon": clearedCoupon},
		"added":        map[string]interface{}{"products": lineRecords(run.added)},
		"coupon_tests": tests,
		"best_coupon":  best,
		"final_basket": final,
	}
	if run.err != "" {
		response["error"] = run.err
	}
	request := map[string]interface{}{
		"tool":     action.SetBasket,
		"products": lineRecords(run.params.Products),
		"coupons":  run.params.Coupons,
	}

	return strings.Join(lines, "\n"), trace.ToolCall{Request: request, Response: response}
}

func lineRecords(lines []basketLine) []basketLine {
	if lines == nil {
		return []basketLine{}
	}
	return lines
}
