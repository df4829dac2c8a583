package httpapi

import (
	"errors"
	"net/http"
	"time"

	"rtc-platform/internal/media"
	"rtc-platform/internal/signaling"
	"rtc-platform/pkg/logger"
	"rtc-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	// Tokens is nil until media credentials are configured; the token
	// endpoint answers 500 in that case.
	Tokens  *media.TokenProvider
	Signals *signaling.Service

	// Redis enables the per-room active-call cap when set.
	Redis  *redis.Client
	CapTTL time.Duration
}

const callCapPrefix = "call_cap:"

// --- Join tokens ---

type tokenRequest struct {
	RoomName            string `json:"roomName"`
	ParticipantIdentity string `json:"participantIdentity"`
	ParticipantName     string `json:"participantName"`
}

// IssueToken mints a media room join credential.
func (h Handlers) IssueToken(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "media credentials not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.RoomName == "" || req.ParticipantIdentity == "" || req.ParticipantName == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "roomName, participantIdentity, participantName required"})
		return
	}

	cred, err := h.Tokens.Mint(req.RoomName, req.ParticipantIdentity, req.ParticipantName)
	if err != nil {
		log.Error("token mint failed", "room", req.RoomName, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": cred.Token})
}

// --- Call signaling ---

type createCallRequest struct {
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	CalleeID   string `json:"calleeId"`
	CalleeName string `json:"calleeName"`
}

func (h Handlers) CreateCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Signals == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "signaling not configured"})
		return
	}
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CallerID == "" || req.CalleeID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callerId, calleeId required"})
		return
	}

	callID, roomID, err := h.Signals.CreateCall(c.Request.Context(),
		signaling.Participant{ID: req.CallerID, Name: req.CallerName},
		signaling.Participant{ID: req.CalleeID, Name: req.CalleeName})
	if errors.Is(err, signaling.ErrInvalidParticipant) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callerId, calleeId required"})
		return
	}
	if err != nil {
		log.Error("create call failed", "caller", req.CallerID, "callee", req.CalleeID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call creation failed"})
		return
	}

	if h.Redis != nil {
		ok, capErr := utils.AcquireConcurrencyCap(c.Request.Context(), h.Redis, callCapPrefix+roomID, 1, h.capTTL())
		if capErr != nil {
			log.Warn("call cap acquire failed", "room_id", roomID, "err", capErr)
		} else if !ok {
			// A ringing or live call already exists for this pair.
			_ = h.Signals.EndCall(c.Request.Context(), callID)
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already in progress"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"callId": callID, "roomId": roomID})
}

func (h Handlers) AcceptCall(c *gin.Context) {
	if h.Signals == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "signaling not configured"})
		return
	}
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	err := h.Signals.AcceptCall(c.Request.Context(), callID)
	if errors.Is(err, signaling.ErrInvalidTransition) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid transition"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "accept failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(signaling.StatusAccepted)})
}

func (h Handlers) EndCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Signals == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "signaling not configured"})
		return
	}
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	err := h.Signals.EndCall(c.Request.Context(), callID)
	if errors.Is(err, signaling.ErrInvalidTransition) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "unknown call"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "end failed"})
		return
	}

	if h.Redis != nil {
		if inv, invErr := h.Signals.Invite(c.Request.Context(), callID); invErr == nil {
			if capErr := utils.ReleaseConcurrencyCap(c.Request.Context(), h.Redis, callCapPrefix+inv.RoomID); capErr != nil {
				log.Warn("call cap release failed", "room_id", inv.RoomID, "err", capErr)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": string(signaling.StatusEnded)})
}

func (h Handlers) capTTL() time.Duration {
	if h.CapTTL > 0 {
		return h.CapTTL
	}
	return 2 * time.Hour
}
