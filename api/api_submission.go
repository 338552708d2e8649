package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	apiutil "github.com/formrelay/go-formrelay-server/api/util"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/services"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/formrelay/go-formrelay-server/util"
	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"

	msgAccepted            = "Form submitted successfully"
	msgVerificationPending = "Please check your email to confirm the form address"
)

type SubmissionApi struct {
	intake      *services.IntakeService
	rateLimiter *services.RateLimitService
}

func NewSubmissionApi(intake *services.IntakeService, rateLimiter *services.RateLimitService) *SubmissionApi {
	return &SubmissionApi{intake: intake, rateLimiter: rateLimiter}
}

// Submit accepts a form submission
// @Summary Submit a form to a recipient
// @Accept json
// @Accept x-www-form-urlencoded
// @Accept multipart/form-data
// @Produce json
// @Produce html
// @Param target path string true "form id, routing hash, f/<hash>, email or default"
// @Success 200 {object} types.SubmissionResponse
// @Failure 400 {object} api.ApiError "malformed body"
// @Failure 403 {object} api.ApiError "origin not allowed"
// @Failure 404 {object} api.ApiError "unknown target"
// @Failure 429 {object} api.ApiError "rate limited"
// @Failure 500 {object} api.ApiError "notification could not be sent"
// @Router /{target} [post]
func (sa *SubmissionApi) Submit(c *gin.Context) {
	target := strings.Trim(c.Param("target"), "/")
	ip := apiutil.ClientIP(c)
	html := apiutil.PrefersHTML(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	// aliases of one recipient share a window, email targets get the strict limit
	identity := sa.intake.RateIdentity(ctx, target)
	decision := sa.rateLimiter.Check(ctx, services.RateKey(ip, identity), services.LimitFor(target))
	setRateLimitHeaders(c, decision)
	if !decision.Allowed {
		c.Header(HeaderRetryAfter, strconv.Itoa(decision.RetryAfter))
		sa.handleError(c, html, types.ErrRateLimited)
		return
	}

	fields, err := ParseSubmissionFields(c, global.Conf.Forms.MaxBodyBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, html, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "submission is too large")
			return
		}
		respondError(c, html, http.StatusBadRequest, ErrCodeValidation, "invalid submission body")
		return
	}
	if fields.Len() == 0 {
		respondError(c, html, http.StatusBadRequest, ErrCodeValidation, "submission has no fields")
		return
	}

	result, err := sa.intake.Process(ctx, &services.IntakeRequest{
		Target:   target,
		Fields:   fields,
		ClientIP: ip,
		Origin:   apiutil.RequestOrigin(c),
	})
	if err != nil {
		sa.handleError(c, html, err)
		return
	}

	if result.Outcome == services.OutcomeVerificationPending {
		if html {
			RenderPage(c, http.StatusOK, PageVerificationPending, "")
			return
		}
		c.JSON(http.StatusOK, types.SubmissionResponse{Success: true, Message: msgVerificationPending, VerificationRequired: true})
		return
	}

	// accepted and absorbed submissions are indistinguishable to the submitter
	if next := result.Submission.Special.Next; next != "" && util.IsValidURL(next) {
		c.Redirect(http.StatusSeeOther, next)
		return
	}
	if html {
		RenderPage(c, http.StatusOK, PageThankYou, "")
		return
	}
	c.JSON(http.StatusOK, types.SubmissionResponse{Success: true, Message: msgAccepted})
}

// handleError maps the error taxonomy to status codes
func (sa *SubmissionApi) handleError(c *gin.Context, html bool, err error) {
	switch {
	case errors.Is(err, types.ErrRateLimited):
		respondError(c, html, http.StatusTooManyRequests, ErrCodeRateLimited, "too many submissions, try again later")
	case errors.Is(err, types.ErrNotFound):
		respondError(c, html, http.StatusNotFound, ErrCodeNotFound, "form not found")
	case errors.Is(err, types.ErrValidation):
		respondError(c, html, http.StatusBadRequest, ErrCodeValidation, "invalid form target")
	case errors.Is(err, types.ErrForbiddenOrigin):
		respondError(c, html, http.StatusForbidden, ErrCodeForbiddenOrigin, "submissions from this origin are not allowed")
	case errors.Is(err, types.ErrUpstream):
		respondError(c, html, http.StatusInternalServerError, ErrCodeUpstream, "failed to deliver the submission, try again later")
	default:
		level.Error(global.Logger).Log("msg", "submission failed", "err", err)
		respondError(c, html, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

func setRateLimitHeaders(c *gin.Context, d types.RateDecision) {
	c.Header(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt/1000, 10))
}

func respondError(c *gin.Context, html bool, status int, errCode string, message string) {
	if html {
		RenderPage(c, status, PageError, message)
		return
	}
	ApiErrorf(c, status, errCode, "%s", message)
}
