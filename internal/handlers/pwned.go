package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/breachrange/internal/breach"
	"github.com/charlesng35/breachrange/internal/services"
	appErrors "github.com/charlesng35/breachrange/pkg/errors"
	"github.com/charlesng35/breachrange/pkg/response"
)

// Lookuper resolves a hash prefix to its breached suffixes.
type Lookuper interface {
	Lookup(ctx context.Context, prefix string) (services.LookupResult, error)
}

// PwnedHandler exposes the k-anonymity range lookups.
type PwnedHandler struct {
	resolver Lookuper
}

// NewPwnedHandler constructs a PwnedHandler.
func NewPwnedHandler(resolver Lookuper) *PwnedHandler {
	return &PwnedHandler{resolver: resolver}
}

type rangeRequest struct {
	Prefix string `json:"prefix" validate:"required,len=5,hexstring"`
}

type checkRequest struct {
	Prefix string `json:"prefix" validate:"required,len=5,hexstring"`
	Suffix string `json:"suffix" validate:"omitempty,len=35,hexstring"`
}

type rangeResponse struct {
	Prefix   string                `json:"prefix"`
	Results  []breach.SuffixRecord `json:"results"`
	CacheHit bool                  `json:"cache_hit"`
}

type checkListResponse struct {
	Prefix  string                `json:"prefix"`
	Results []breach.SuffixRecord `json:"results"`
}

type checkResponse struct {
	Pwned bool `json:"pwned"`
	Count int  `json:"count"`
}

// Range handles POST /api/v1/pwned-range.
func (h *PwnedHandler) Range(c *gin.Context) {
	var req rangeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.resolver.Lookup(requestContext(c), req.Prefix)
	if err != nil {
		response.Error(c, lookupFailure(err))
		return
	}

	c.JSON(http.StatusOK, rangeResponse{
		Prefix:   result.Prefix.String(),
		Results:  records(result.Records),
		CacheHit: result.CacheHit,
	})
}

// Check handles POST /api/v1/check. With a suffix it reports whether that suffix is
// breached; without one it returns the whole range.
func (h *PwnedHandler) Check(c *gin.Context) {
	var req checkRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var suffix string
	if req.Suffix != "" {
		normalized, err := breach.NormalizeSuffix(req.Suffix)
		if err != nil {
			response.Error(c, lookupFailure(err))
			return
		}
		suffix = normalized
	}

	result, err := h.resolver.Lookup(requestContext(c), req.Prefix)
	if err != nil {
		response.Error(c, lookupFailure(err))
		return
	}

	if suffix == "" {
		c.JSON(http.StatusOK, checkListResponse{
			Prefix:  result.Prefix.String(),
			Results: records(result.Records),
		})
		return
	}

	pwned, count := breach.MatchSuffix(result.Records, suffix)
	c.JSON(http.StatusOK, checkResponse{Pwned: pwned, Count: count})
}

func records(result breach.RangeResult) []breach.SuffixRecord {
	if result == nil {
		return []breach.SuffixRecord{}
	}
	return result
}

func lookupFailure(err error) error {
	var validationErr *breach.ValidationError
	if errors.As(err, &validationErr) {
		return appErrors.NewBadRequest(validationErr.Field + " " + validationErr.Reason)
	}
	var lookupErr *breach.LookupError
	if errors.As(err, &lookupErr) {
		return appErrors.ErrBreachDataUnavailable.WithInternal(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return appErrors.ErrBreachDataUnavailable.WithInternal(err)
	}
	return appErrors.ErrInternalServer.WithInternal(err)
}

func requestContext(c *gin.Context) context.Context {
	if c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
