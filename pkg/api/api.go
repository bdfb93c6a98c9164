// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the read-only status of the control loop and the
// operator re-arm of the sync target over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/control"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/logger"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/scheduler"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sentry"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sink"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/source"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
	"go.uber.org/zap"
)

// Controller is the part of the control loop the API needs.
type Controller interface {
	Snapshot() (control.SystemSnapshot, error)
	Values() []sink.PublishedValue
	Rearm(ctx context.Context, targetID int) scheduler.Snapshot
	Command(ctx context.Context, device string, unitID int, command string, level int) (telemetry.Reading, error)
}

var _ Controller = (*control.Loop)(nil)

type rearmRequest struct {
	TargetID *int `json:"targetId" binding:"required,min=0"`
}

type levelRequest struct {
	Level   *int   `json:"level" binding:"omitempty,min=0"`
	Command string `json:"command" binding:"required,oneof=set on off"`
}

type deviceValue struct {
	PublishedAt time.Time `json:"publishedAt"`
	Device      string    `json:"device"`
	Unit        string    `json:"unit"`
	SValue      string    `json:"sValue"`
	UnitID      int       `json:"unitId"`
	NValue      int       `json:"nValue"`
}

type handler struct {
	controller Controller
	logger     *zap.SugaredLogger
}

// NewRouter builds the gin engine. A nil log uses zap.L().
func NewRouter(controller Controller, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.L()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))

	h := &handler{
		controller: controller,
		logger:     logger.For(logger.ComponentStatusAPI),
	}

	// Healthcheck
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", h.getStatus)
		v1.GET("/devices", h.getDevices)
		v1.POST("/devices/:device/units/:unit/level", h.postLevel)
		v1.POST("/sync/rearm", h.postRearm)
	}

	return router
}

func (h *handler) getStatus(c *gin.Context) {
	snapshot, err := h.controller.Snapshot()
	if err != nil {
		h.handleInternalServerError(c, err)

		return
	}

	c.JSON(http.StatusOK, snapshot)
}

func (h *handler) getDevices(c *gin.Context) {
	values := h.controller.Values()

	out := make([]deviceValue, 0, len(values))
	for _, v := range values {
		out = append(out, deviceValue{
			PublishedAt: v.PublishedAt,
			Device:      v.Reading.Device,
			Unit:        v.Reading.Unit,
			SValue:      v.Reading.SValue,
			UnitID:      v.Reading.UnitID,
			NValue:      v.Reading.NValue,
		})
	}

	c.JSON(http.StatusOK, out)
}

func (h *handler) postRearm(c *gin.Context) {
	var req rearmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleInvalidInputError(c, err)

		return
	}

	sched := h.controller.Rearm(c.Request.Context(), *req.TargetID)
	h.logger.Infof("Sync target re-armed to %d, scheduler is %s", *req.TargetID, sched.State)

	c.JSON(http.StatusOK, gin.H{
		"targetId": *req.TargetID,
		"state":    sched.State,
	})
}

func (h *handler) postLevel(c *gin.Context) {
	unitID, err := strconv.Atoi(c.Param("unit"))
	if err != nil {
		h.handleInvalidInputError(c, fmt.Errorf("unit id %q: %w", c.Param("unit"), err))

		return
	}

	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleInvalidInputError(c, err)

		return
	}

	level := 0
	if req.Level != nil {
		level = *req.Level
	} else if req.Command != telemetry.CommandOff {
		h.handleInvalidInputError(c, fmt.Errorf("command %s needs a level", req.Command))

		return
	}

	reading, err := h.controller.Command(c.Request.Context(), c.Param("device"), unitID, req.Command, level)

	switch {
	case err == nil:
		c.JSON(http.StatusOK, deviceValue{
			PublishedAt: time.Now(),
			Device:      reading.Device,
			Unit:        reading.Unit,
			SValue:      reading.SValue,
			UnitID:      reading.UnitID,
			NValue:      reading.NValue,
		})
	case errors.Is(err, telemetry.ErrUnknownUnit):
		h.handleNotFoundError(c, err)
	case errors.Is(err, telemetry.ErrNotWritable), errors.Is(err, telemetry.ErrUnknownCommand):
		h.handleInvalidInputError(c, err)
	case errors.Is(err, control.ErrCommandsUnavailable), errors.Is(err, source.ErrPrimaryWrite):
		h.handleUnavailableError(c, err)
	default:
		h.handleInternalServerError(c, err)
	}
}

func (h *handler) handleInternalServerError(c *gin.Context, err error) {
	h.logger.Errorw("Internal server error", "error", err)

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   err.Error(),
		"status":  http.StatusInternalServerError,
		"message": "The server had an internal error.",
	})
}

func (h *handler) handleInvalidInputError(c *gin.Context, err error) {
	h.logger.Debugw("Invalid input", "error", err, "route", c.FullPath())

	c.JSON(http.StatusBadRequest, gin.H{
		"error":   err.Error(),
		"status":  http.StatusBadRequest,
		"message": "You have provided a wrong input. Please check your parameters.",
	})
}

func (h *handler) handleNotFoundError(c *gin.Context, err error) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":   err.Error(),
		"status":  http.StatusNotFound,
		"message": "The requested device unit was not detected.",
	})
}

func (h *handler) handleUnavailableError(c *gin.Context, err error) {
	h.logger.Warnw("Primary source unavailable", "error", err)

	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":   err.Error(),
		"status":  http.StatusServiceUnavailable,
		"message": "The primary source cannot take commands right now.",
	})
}

// SetupStatusAPI starts serving router on addr in the background.
func SetupStatusAPI(addr string, router http.Handler) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For(logger.ComponentStatusAPI))
		}
	}()

	return server
}
