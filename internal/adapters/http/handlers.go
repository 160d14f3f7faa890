package http

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/adapters/backend"
	"github.com/dkeye/Dispatch/internal/app"
	"github.com/dkeye/Dispatch/internal/domain"
)

const (
	operatorTokenKey = "operator_token"
	operatorEpochKey = "operator_epoch"
)

type handlers struct {
	d *app.Dashboard
	// logouts counts operator logouts since start. Sessions saved before
	// the latest logout no longer authorize requests.
	logouts atomic.Uint64
}

type loginRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"channel": h.d.Channel.State().String(),
	})
}

// restoreOperator logs the stored operator back in after a restart. Once
// an operator has logged out, old sessions no longer restore.
func (h *handlers) restoreOperator(c *gin.Context) {
	if !h.d.Auth.LoggedIn() && h.logouts.Load() == 0 {
		s := sessions.Default(c)
		if tok, ok := s.Get(operatorTokenKey).(string); ok && tok != "" {
			if err := h.d.Auth.Login(tok); err == nil {
				h.saveOperator(s, tok)
				log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("operator restored from session")
			}
		}
	}
	c.Next()
}

// requireOperator admits only sessions holding the current operator
// credential.
func (h *handlers) requireOperator(c *gin.Context) {
	if !h.authorized(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	c.Next()
}

func (h *handlers) authorized(c *gin.Context) bool {
	s := sessions.Default(c)
	tok, _ := s.Get(operatorTokenKey).(string)
	epoch, _ := s.Get(operatorEpochKey).(uint64)
	return tok != "" && tok == h.d.Auth.Token() && epoch == h.logouts.Load()
}

func (h *handlers) saveOperator(s sessions.Session, tok string) {
	s.Set(operatorTokenKey, tok)
	s.Set(operatorEpochKey, h.logouts.Load())
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
	}
}

func (h *handlers) authStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"logged_in": h.authorized(c),
		"channel":   h.d.Channel.State().String(),
	})
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid token"})
		return
	}
	if err := h.d.Auth.Login(req.Token); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.saveOperator(sessions.Default(c), req.Token)
	c.JSON(http.StatusOK, gin.H{"logged_in": true})
}

func (h *handlers) logout(c *gin.Context) {
	h.logouts.Add(1)
	h.d.Auth.Logout()
	s := sessions.Default(c)
	s.Delete(operatorTokenKey)
	s.Delete(operatorEpochKey)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listCalls(c *gin.Context) {
	var f domain.CallFilters
	if err := c.ShouldBindQuery(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	calls, err := h.d.Cache.Calls(c.Request.Context(), f)
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (h *handlers) activeCalls(c *gin.Context) {
	calls, err := h.d.Cache.ActiveCalls(c.Request.Context())
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (h *handlers) callDetails(c *gin.Context) {
	call, err := h.d.Cache.Call(c.Request.Context(), callID(c))
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *handlers) callTranscript(c *gin.Context) {
	entries, err := h.d.Cache.Transcript(c.Request.Context(), callID(c))
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcript": entries})
}

func (h *handlers) initializeCall(c *gin.Context) {
	var req domain.InitializeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	call, err := h.d.Cache.InitializeCall(c.Request.Context(), req)
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h *handlers) cancelCall(c *gin.Context) {
	if err := h.d.Cache.CancelCall(c.Request.Context(), callID(c)); err != nil {
		backendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) retryCall(c *gin.Context) {
	call, err := h.d.Cache.RetryCall(c.Request.Context(), callID(c))
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *handlers) watchCall(c *gin.Context) {
	h.d.WatchCall(callID(c))
	c.Status(http.StatusNoContent)
}

func (h *handlers) unwatchCall(c *gin.Context) {
	h.d.UnwatchCall(callID(c))
	c.Status(http.StatusNoContent)
}

func (h *handlers) analytics(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
		return
	}
	a, err := h.d.Cache.Analytics(c.Request.Context(), days)
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *handlers) alerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.d.Alerts.Alerts()})
}

func (h *handlers) sessionSnapshot(c *gin.Context) {
	snap := h.d.Session.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"session":        snap,
		"is_call_active": snap.IsCallActive(),
		"is_connected":   snap.IsConnected(),
	})
}

func (h *handlers) startCall(c *gin.Context) {
	var cfg domain.CallConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp := h.d.Session.StartCall(c.Request.Context(), cfg)
	snap := h.d.Session.Snapshot()
	if resp == nil {
		msg := snap.Error
		if msg == "" {
			msg = "call not started"
		}
		c.JSON(http.StatusConflict, gin.H{"error": msg, "session": snap})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": resp, "session": snap})
}

func (h *handlers) endCall(c *gin.Context) {
	h.d.Session.EndCall(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"session": h.d.Session.Snapshot()})
}

func (h *handlers) clearError(c *gin.Context) {
	h.d.Session.ClearError()
	c.JSON(http.StatusOK, gin.H{"session": h.d.Session.Snapshot()})
}

func (h *handlers) checkDevices(c *gin.Context) {
	caps := h.d.Session.CheckAudioDevices(c.Request.Context())
	c.JSON(http.StatusOK, caps)
}

func callID(c *gin.Context) domain.CallID {
	return domain.CallID(c.Param("id"))
}

// backendError maps a cache or backend failure onto a response status.
func backendError(c *gin.Context, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Body})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("backend request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend unavailable"})
	}
}
