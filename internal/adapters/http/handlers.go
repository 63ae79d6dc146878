package http

import (
	"errors"
	"io"
	nethttp "net/http"

	"github.com/dkeye/VoiceRelay/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const defaultRoomID = "default"

type handlers struct {
	deps Deps
}

type tokenRequest struct {
	UserID string `json:"userId" binding:"max=64"`
	RoomID string `json:"roomId" binding:"max=128"`
}

// bindTokenRequest accepts an empty body and fills in the defaults.
func bindTokenRequest(c *gin.Context) (tokenRequest, error) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	if req.UserID == "" {
		req.UserID = c.GetString(clientTokenKey)
	}
	if req.RoomID == "" {
		req.RoomID = defaultRoomID
	}
	return req, nil
}

func (h *handlers) fail(c *gin.Context, provider string, err error) {
	status := nethttp.StatusBadRequest
	outcome := "bad_request"
	if errors.Is(err, token.ErrNotConfigured) {
		status = nethttp.StatusServiceUnavailable
		outcome = "unconfigured"
	}
	h.deps.Metrics.Token(provider, outcome)
	log.Warn().Err(err).Str("module", "adapters.http").Str("provider", provider).Msg("token request failed")
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func (h *handlers) health(c *gin.Context) {
	st := h.deps.Engine.Rooms.Stats()
	c.JSON(nethttp.StatusOK, gin.H{
		"status":           "healthy",
		"rooms":            st.Rooms,
		"members":          st.Members,
		"agora_app_id_set": h.deps.Agora.Configured(),
		"trtc_configured":  h.deps.TRTC.Configured(),
	})
}

func (h *handlers) rooms(c *gin.Context) {
	c.JSON(nethttp.StatusOK, h.deps.Engine.Rooms.List())
}

func (h *handlers) agoraAppID(c *gin.Context) {
	c.JSON(nethttp.StatusOK, gin.H{"appId": h.deps.Agora.AppID})
}

func (h *handlers) agoraConfig(c *gin.Context) {
	provider := h.deps.Agora.Provider()
	req, err := bindTokenRequest(c)
	if err != nil {
		h.fail(c, provider, err)
		return
	}
	cred, err := h.deps.Agora.Issue(req.UserID, req.RoomID)
	if err != nil {
		h.fail(c, provider, err)
		return
	}
	h.deps.Metrics.Token(provider, "ok")

	var tok *string
	mode := "test"
	if h.deps.Agora.TokenMode() {
		tok = &cred.Token
		mode = "token"
	}
	c.JSON(nethttp.StatusOK, gin.H{
		"appId":   cred.AppID,
		"channel": cred.Channel,
		"uid":     cred.UID,
		"token":   tok,
		"success": true,
		"mode":    mode,
	})
}

func (h *handlers) trtcUserSig(c *gin.Context) {
	provider := h.deps.TRTC.Provider()
	req, err := bindTokenRequest(c)
	if err != nil {
		h.fail(c, provider, err)
		return
	}
	cred, err := h.deps.TRTC.Issue(req.UserID, req.RoomID)
	if err != nil {
		h.fail(c, provider, err)
		return
	}
	h.deps.Metrics.Token(provider, "ok")

	c.JSON(nethttp.StatusOK, gin.H{
		"sdkAppId": h.deps.TRTC.SDKAppID,
		"roomId":   cred.Channel,
		"userId":   cred.UID,
		"userSig":  cred.Token,
		"success":  true,
	})
}
