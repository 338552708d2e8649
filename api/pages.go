package api

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/util"
	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
)

const (
	PageThankYou            = "thank_you"
	PageVerificationPending = "verification_pending"
	PageVerified            = "verified"
	PageLinkExpired         = "link_expired"
	PageError               = "error"
)

type pageData struct {
	Title   string
	Message string
	Back    string
}

var pages = template.Must(template.New("layout").Parse(`{{define "layout"}}<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>body{font-family:sans-serif;max-width:36rem;margin:4rem auto;padding:0 1rem;color:#222}</style>
</head><body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .Back}}<p><a href="{{.Back}}">Go back</a></p>{{end}}
</body></html>{{end}}`))

var pageTitles = map[string]pageData{
	PageThankYou:            {Title: "Thank you!", Message: "Your submission has been received."},
	PageVerificationPending: {Title: "Almost there", Message: "The owner of this form must confirm their email address before submissions are delivered. Please check your email."},
	PageVerified:            {Title: "Email confirmed", Message: "Your email address is confirmed. Form submissions will now be delivered to your inbox."},
	PageLinkExpired:         {Title: "Link expired", Message: "This confirmation link is invalid or has expired. Submit the form again to receive a new one."},
	PageError:               {Title: "Something went wrong"},
}

// RenderPage writes one of the minimal status pages. An empty message keeps the page default.
func RenderPage(c *gin.Context, status int, page string, message string) {
	data, ok := pageTitles[page]
	if !ok {
		data = pageTitles[PageError]
	}
	if message != "" {
		data.Message = message
	}
	data.Back = safeReferer(c.GetHeader("Referer"))

	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, "layout", data); err != nil {
		level.Error(global.Logger).Log("msg", "failed to render page", "page", page, "err", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
	c.Abort()
}

func safeReferer(referer string) string {
	if util.IsValidURL(referer) {
		return referer
	}
	return ""
}
