package pricing

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteText renders a plain-text breakdown of res, suitable for pasting into an email
// or printing on the shop floor.
func WriteText(w io.Writer, req QuoteRequest, res QuoteResult) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Glass: %s %s x%d\n", req.Thickness, req.GlassType, req.Quantity)
	if req.IsCircular {
		fmt.Fprintf(&b, "Size: %.2f in diameter\n", req.diameter())
	} else {
		fmt.Fprintf(&b, "Size: %.2f x %.2f in\n", req.Width, req.Height)
	}
	if opts := options(req); len(opts) > 0 {
		fmt.Fprintf(&b, "Options: %s\n", strings.Join(opts, ", "))
	}

	if res.Rejected() {
		fmt.Fprintf(&b, "\nRejected (%s): %s\n", res.ErrorCode, res.Error)
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("\n")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', tabwriter.AlignRight)
	line := func(label string, v float64) {
		fmt.Fprintf(tw, "%s\t%.2f\t\n", label, v)
	}
	fmt.Fprintf(tw, "Area (sq ft)\t%.4f\t\n", res.SqFt)
	fmt.Fprintf(tw, "Billable (sq ft)\t%.4f\t\n", res.BillableSqFt)
	fmt.Fprintf(tw, "Perimeter (in)\t%.4f\t\n", res.Perimeter)
	line("Base", res.BasePrice)
	if res.PolishPrice != 0 {
		line("Polish", res.PolishPrice)
	}
	if res.BeveledPrice != 0 {
		line("Beveled", res.BeveledPrice)
	}
	if res.ClippedCornersPrice != 0 {
		line("Clipped corners", res.ClippedCornersPrice)
	}
	if res.TemperedPrice != 0 {
		line("Tempered markup", res.TemperedPrice)
	}
	if res.ShapePrice != 0 {
		line("Shape markup", res.ShapePrice)
	}
	line("Subtotal", res.Subtotal)
	if res.ContractorDiscount != 0 {
		line("Contractor discount", -res.ContractorDiscount)
	}
	line("Total", res.Total)
	line("Quote price", res.QuotePrice)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(&b, "\nFormula: %s\n", res.FormulaMode)
	if res.FormulaFallback != "" {
		fmt.Fprintf(&b, "Fallback: %s\n", res.FormulaFallback)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func options(req QuoteRequest) []string {
	var opts []string
	flags := []struct {
		on   bool
		name string
	}{
		{req.IsPolished, "polished"},
		{req.IsBeveled, "beveled"},
		{req.IsTempered, "tempered"},
		{req.IsNonRectangular, "shaped"},
		{req.IsCircular, "circular"},
		{req.IsContractor, "contractor"},
	}
	for _, f := range flags {
		if f.on {
			opts = append(opts, f.name)
		}
	}
	if req.NumClippedCorners > 0 {
		opts = append(opts, fmt.Sprintf("%d clipped corners (%s)", req.NumClippedCorners, req.ClipSize))
	}
	return opts
}
