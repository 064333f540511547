package pricing

import "math"

// Rejection codes carried by ValidationError and QuoteResult.ErrorCode.
const (
	CodeThinTempered    = "thin_tempered"
	CodeThinPolished    = "thin_polished"
	CodeThinBeveled     = "thin_beveled"
	CodeThinMirror      = "thin_mirror"
	CodeMirrorTempered  = "mirror_tempered"
	CodeClippedMirror   = "clipped_mirror"
	CodeClippedCircular = "clipped_circular"

	CodeInvalidInput  = "invalid_input"
	CodeInvalidConfig = "invalid_config"
	CodeInternal      = "internal_error"
)

// ValidationError is a business-rule rejection of a quote request.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func reject(code, msg string) *ValidationError {
	return &ValidationError{Code: code, Message: msg}
}

// Validate checks the request against the shop's fabrication rules. Rules are
// evaluated in order and the first match is returned.
func Validate(req QuoteRequest) *ValidationError {
	if req.Thickness.Thinnest() {
		switch {
		case req.IsTempered:
			return reject(CodeThinTempered, "1/8\" glass cannot be tempered")
		case req.IsPolished:
			return reject(CodeThinPolished, "1/8\" glass cannot be polished")
		case req.IsBeveled:
			return reject(CodeThinBeveled, "1/8\" glass cannot be beveled")
		case req.GlassType == GlassMirror:
			return reject(CodeThinMirror, "mirror is not available in 1/8\"")
		}
	}

	if req.GlassType == GlassMirror && req.IsTempered {
		return reject(CodeMirrorTempered, "mirror cannot be tempered")
	}

	if req.NumClippedCorners > 0 {
		if req.GlassType == GlassMirror {
			return reject(CodeClippedMirror, "clipped corners are not available on mirror")
		}
		if req.IsCircular {
			return reject(CodeClippedCircular, "clipped corners are not available on circular pieces")
		}
	}

	return validateInput(req)
}

func validateInput(req QuoteRequest) *ValidationError {
	switch {
	case req.Thickness == "":
		return reject(CodeInvalidInput, "thickness is required")
	case req.GlassType == "":
		return reject(CodeInvalidInput, "glass type is required")
	case req.Quantity < 1:
		return reject(CodeInvalidInput, "quantity must be at least 1")
	case req.NumClippedCorners < 0 || req.NumClippedCorners > 4:
		return reject(CodeInvalidInput, "clipped corners must be between 0 and 4")
	}

	if req.IsCircular {
		if !positive(req.diameter()) {
			return reject(CodeInvalidInput, "diameter must be greater than 0")
		}
		return nil
	}
	if !positive(req.Width) || !positive(req.Height) {
		return reject(CodeInvalidInput, "width and height must be greater than 0")
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
