package pricing

import "math"

const squareInchesPerSquareFoot = 144.0

// Geometry is the measured size of one piece. Areas are in square feet, the perimeter
// in inches.
type Geometry struct {
	SqFt         float64
	BillableSqFt float64
	Perimeter    float64
}

// Measure derives area and perimeter from the request dimensions and floors the
// billable area at minimumSqFt.
func Measure(req QuoteRequest, minimumSqFt float64) Geometry {
	var sqft, perimeter float64
	if req.IsCircular {
		d := req.diameter()
		sqft = CircleSquareFeet(d)
		perimeter = math.Pi * d
	} else {
		sqft = RectangleSquareFeet(req.Width, req.Height)
		perimeter = 2 * (req.Width + req.Height)
	}

	return Geometry{
		SqFt:         sqft,
		BillableSqFt: BillableSquareFeet(sqft, minimumSqFt),
		Perimeter:    perimeter,
	}
}

// RectangleSquareFeet converts a width and height in inches to square feet.
func RectangleSquareFeet(width, height float64) float64 {
	return width * height / squareInchesPerSquareFoot
}

// CircleSquareFeet converts a diameter in inches to the circle's area in square feet.
func CircleSquareFeet(diameter float64) float64 {
	r := diameter / 2
	return math.Pi * r * r / squareInchesPerSquareFoot
}

// BillableSquareFeet applies the shop minimum charge area.
func BillableSquareFeet(sqft, minimumSqFt float64) float64 {
	return math.Max(sqft, minimumSqFt)
}
