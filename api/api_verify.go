package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/services"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
)

type VerifyApi struct {
	intake *services.IntakeService
}

func NewVerifyApi(intake *services.IntakeService) *VerifyApi {
	return &VerifyApi{intake: intake}
}

// Verify confirms the recipient email of a form
// @Summary Confirm a recipient email address
// @Produce html
// @Param token path string true "verification token"
// @Success 200 {string} string "verified page"
// @Failure 410 {string} string "link expired page"
// @Router /verify/{token} [get]
func (va *VerifyApi) Verify(c *gin.Context) {
	token := c.Param("token")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	result, err := va.intake.ConfirmVerification(ctx, token)
	if err != nil {
		if errors.Is(err, types.ErrTokenNotFound) {
			RenderPage(c, http.StatusGone, PageLinkExpired, "")
			return
		}
		level.Error(global.Logger).Log("msg", "verification failed", "err", err)
		RenderPage(c, http.StatusInternalServerError, PageError, "We could not confirm your email right now. Please try the link again later.")
		return
	}
	message := ""
	if result.Replayed {
		message = "Your email address is confirmed and the pending submission has been delivered."
	}
	RenderPage(c, http.StatusOK, PageVerified, message)
}
