package scrape

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock_Cloudflare403(t *testing.T) {
	blocked, bt := DetectBlock(403, http.Header{"Cf-Ray": {"abc123"}}, nil)
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)
}

func TestDetectBlock_Cloudflare503Server(t *testing.T) {
	blocked, bt := DetectBlock(503, http.Header{"Server": {"cloudflare"}}, nil)
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)
}

func TestDetectBlock_ChallengePage(t *testing.T) {
	body := []byte("<html><title>Just a moment...</title><body>Checking your browser before accessing</body></html>")
	blocked, bt := DetectBlock(200, http.Header{}, body)
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)
}

func TestDetectBlock_CaptchaInBody(t *testing.T) {
	body := []byte("<html><body>Please complete the reCAPTCHA to continue</body></html>")
	blocked, bt := DetectBlock(200, http.Header{}, body)
	assert.True(t, blocked)
	assert.Equal(t, BlockCaptcha, bt)
}

func TestDetectBlock_JSShell(t *testing.T) {
	body := []byte("<html><noscript>Enable JavaScript to see the results</noscript></html>")
	blocked, bt := DetectBlock(200, http.Header{}, body)
	assert.True(t, blocked)
	assert.Equal(t, BlockJSShell, bt)
}

func TestDetectBlock_CleanPage(t *testing.T) {
	body := []byte("<html><body><ul class=\"displayball\"><li>7</li></ul></body></html>")
	blocked, bt := DetectBlock(200, nil, body)
	assert.False(t, blocked)
	assert.Equal(t, BlockNone, bt)
}

func TestBlockedError_Unwrap(t *testing.T) {
	inner := errors.New("parse failed")
	err := &BlockedError{SourceID: "fdj", Type: BlockCaptcha, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "captcha")
}
