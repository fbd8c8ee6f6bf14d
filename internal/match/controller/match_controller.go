// Package controller exposes match rooms over HTTP and websockets.
package controller

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"codearena/internal/common/http/middleware"
	"codearena/internal/judge/evaluator"
	"codearena/internal/match/model"
	"codearena/internal/match/service"
	"codearena/internal/rating"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
	"codearena/pkg/utils/response"
)

// MatchService is the room surface the controller drives.
type MatchService interface {
	CreateRoom(ctx context.Context, hostID string, format model.Format, problemID int64, opts model.CreateOptions) (model.Room, error)
	JoinRoom(ctx context.Context, code, userID string) (service.JoinResult, error)
	LeaveRoom(ctx context.Context, roomID, userID string) error
	StartMatch(ctx context.Context, roomID, hostID string, problemOverride int64) (model.Room, error)
	SubmitCode(ctx context.Context, roomID, userID, code, language string) (evaluator.SuiteResult, error)
	RunCode(ctx context.Context, roomID, userID, code, language string) (evaluator.SuiteResult, error)
	GetRoomState(ctx context.Context, roomID string) (service.RoomState, error)
	UpdateParticipantStatus(ctx context.Context, roomID, userID string, status model.ParticipantStatus) error
	GetLeaderboard(ctx context.Context, roomID string) ([]model.LeaderboardEntry, error)
	QuickMatch(ctx context.Context, userID string, format model.Format) (service.JoinResult, error)
	CreateInstantMatch(ctx context.Context, playerID, opponentID, difficulty string) (model.Room, error)
}

// Ratings reads rating history and suggests opponents.
type Ratings interface {
	History(ctx context.Context, userID string, limit int) ([]rating.MatchResult, error)
	Opponents(ctx context.Context, userID string) ([]rating.Opponent, error)
}

// RoomStream attaches a websocket to a room's event feed. It blocks until the peer leaves.
type RoomStream interface {
	Serve(ctx context.Context, conn *websocket.Conn, roomID, userID string)
}

// MatchController handles match room endpoints.
type MatchController struct {
	matches  MatchService
	ratings  Ratings
	stream   RoomStream
	upgrader websocket.Upgrader
}

func NewMatchController(matches MatchService, ratings Ratings, stream RoomStream) *MatchController {
	return &MatchController{
		matches: matches,
		ratings: ratings,
		stream:  stream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the API under api and the websocket feed under ws.
func (h *MatchController) RegisterRoutes(api, ws *gin.RouterGroup) {
	rooms := api.Group("/rooms")
	rooms.POST("", h.CreateRoom)
	rooms.POST("/join", h.JoinRoom)
	rooms.POST("/quick", h.QuickMatch)
	rooms.POST("/instant", h.CreateInstantMatch)
	rooms.GET("/:id", h.GetRoomState)
	rooms.POST("/:id/leave", h.LeaveRoom)
	rooms.POST("/:id/start", h.StartMatch)
	rooms.POST("/:id/submit", h.SubmitCode)
	rooms.POST("/:id/run", h.RunCode)
	rooms.PUT("/:id/status", h.UpdateStatus)
	rooms.GET("/:id/leaderboard", h.GetLeaderboard)

	api.GET("/ratings/history", h.RatingHistory)
	api.GET("/matchmaking/opponents", h.Opponents)

	ws.GET("/rooms/:id", h.Stream)
}

// CreateRoomRequest defines the room creation payload.
type CreateRoomRequest struct {
	MatchType    string `json:"match_type"`
	ProblemID    int64  `json:"problem_id"`
	Language     string `json:"language"`
	Level        string `json:"level"`
	TimeLimitMin int    `json:"timing"`
}

// JoinRoomRequest defines the join payload.
type JoinRoomRequest struct {
	RoomCode string `json:"room_code" binding:"required"`
}

// QuickMatchRequest defines the quick match payload.
type QuickMatchRequest struct {
	MatchType string `json:"match_type"`
}

// InstantMatchRequest defines the instant match payload.
type InstantMatchRequest struct {
	OpponentID string `json:"opponent_id" binding:"required"`
	Level      string `json:"level"`
}

// StartMatchRequest optionally overrides the room problem.
type StartMatchRequest struct {
	ProblemID int64 `json:"problem_id"`
}

// CodeRequest carries source for submit and run.
type CodeRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
}

// StatusRequest defines the participant status payload.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *MatchController) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	format, err := model.ParseFormat(req.MatchType)
	if err != nil {
		response.Error(c, err)
		return
	}
	room, err := h.matches.CreateRoom(c.Request.Context(), middleware.UserID(c), format, req.ProblemID, model.CreateOptions{
		Language:     req.Language,
		Difficulty:   req.Level,
		TimeLimitMin: req.TimeLimitMin,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, room)
}

func (h *MatchController) JoinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.matches.JoinRoom(c.Request.Context(), req.RoomCode, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *MatchController) QuickMatch(c *gin.Context) {
	var req QuickMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	format, err := model.ParseFormat(req.MatchType)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.matches.QuickMatch(c.Request.Context(), middleware.UserID(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *MatchController) CreateInstantMatch(c *gin.Context) {
	var req InstantMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	room, err := h.matches.CreateInstantMatch(c.Request.Context(), middleware.UserID(c), req.OpponentID, req.Level)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, room)
}

func (h *MatchController) GetRoomState(c *gin.Context) {
	state, err := h.matches.GetRoomState(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, state)
}

func (h *MatchController) LeaveRoom(c *gin.Context) {
	if err := h.matches.LeaveRoom(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"left": true})
}

func (h *MatchController) StartMatch(c *gin.Context) {
	var req StartMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	room, err := h.matches.StartMatch(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.ProblemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, room)
}

func (h *MatchController) SubmitCode(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.matches.SubmitCode(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Code, req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *MatchController) RunCode(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.matches.RunCode(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Code, req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *MatchController) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	status := model.ParticipantStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err := h.matches.UpdateParticipantStatus(c.Request.Context(), c.Param("id"), middleware.UserID(c), status); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"status": status})
}

func (h *MatchController) GetLeaderboard(c *gin.Context) {
	board, err := h.matches.GetLeaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, board)
}

func (h *MatchController) RatingHistory(c *gin.Context) {
	if h.ratings == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "rating history unavailable")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	userID := c.DefaultQuery("user_id", middleware.UserID(c))
	history, err := h.ratings.History(c.Request.Context(), userID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, history)
}

// Opponents lists players of similar rating for the caller.
func (h *MatchController) Opponents(c *gin.Context) {
	if h.ratings == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "matchmaking unavailable")
		return
	}
	opponents, err := h.ratings.Opponents(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, opponents)
}

// Stream upgrades to a websocket carrying the room's events.
func (h *MatchController) Stream(c *gin.Context) {
	roomID := c.Param("id")
	ctx := c.Request.Context()
	if _, err := h.matches.GetRoomState(ctx, roomID); err != nil {
		response.Error(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	h.stream.Serve(context.WithoutCancel(ctx), conn, roomID, middleware.UserID(c))
}
