package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"s7panel/pkg/apis"
	"s7panel/pkg/apis/response"
	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/runtime/constant"
	"s7panel/pkg/tag"
)

const eventBuffer = 64

func InstallHandler(group *gin.RouterGroup, mgr *Manager) {
	group.GET("/connection", getStatus(mgr))
	group.POST("/connection", connect(mgr))
	group.POST("/connection/reconnect", reconnect(mgr))
	group.DELETE("/connection", disconnect(mgr))
	group.GET("/cpu", getCPUInfo(mgr))
	group.GET("/tags", listTags(mgr))
	group.POST("/tags", addTag(mgr))
	group.GET("/tags/:name", getTag(mgr))
	group.DELETE("/tags/:name", removeTag(mgr))
	group.PUT("/tags/:name/value", writeTag(mgr))
	group.GET("/events", streamEvents(mgr))
	group.GET("/diagnostics/blocks", probeBlocks(mgr))
}

type connectRequest struct {
	Host string `json:"host" binding:"required"`
	Rack *uint8 `json:"rack"`
	Slot *uint8 `json:"slot"`
}

type addTagRequest struct {
	Name     string             `json:"name"`
	Address  string             `json:"address" binding:"required"`
	DataType *constant.DataType `json:"dataType"`
}

type cpuResponse struct {
	s7runtime.CPUInfo
	State s7runtime.CPUState `json:"state"`
}

type writeRequest struct {
	Value interface{} `json:"value"`
}

func getStatus(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.Status())
	}
}

func connect(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req connectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			klog.V(2).InfoS("Failed to parse connect request", "err", err)
			respond(c, response.ErrMalformedJSON)
			return
		}
		rack, slot := uint8(0), uint8(1)
		if req.Rack != nil {
			rack = *req.Rack
		}
		if req.Slot != nil {
			slot = *req.Slot
		}
		if err := mgr.Connect(c.Request.Context(), req.Host, rack, slot); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, mgr.Status())
	}
}

func reconnect(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := mgr.Reconnect(c.Request.Context()); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, mgr.Status())
	}
}

func disconnect(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		mgr.Disconnect()
		c.JSON(http.StatusOK, mgr.Status())
	}
}

func getCPUInfo(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := mgr.CPUInfo(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		state, err := mgr.CPUState(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, cpuResponse{CPUInfo: info, State: state})
	}
}

func listTags(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Request.URL.Query()
		filter := tag.Filter{}
		if v := query.Get(apis.Filter); len(v) > 0 {
			if err := json.Unmarshal([]byte(v), &filter); err != nil {
				respond(c, response.ErrMalformedJSON)
				return
			}
		}
		var less []tag.LessFunc
		if v := query.Get(apis.Sort); len(v) > 0 {
			for _, key := range strings.Split(v, ",") {
				if f, ok := tag.SortBy[strings.TrimSpace(key)]; ok {
					less = append(less, f)
				}
			}
		}
		c.JSON(http.StatusOK, mgr.ListTags(&filter, less...))
	}
}

func addTag(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addTagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			klog.V(2).InfoS("Failed to parse tag", "err", err)
			respond(c, response.ErrMalformedJSON)
			return
		}

		var dataType constant.DataType
		if req.DataType != nil {
			dataType = *req.DataType
		} else {
			d, err := s7runtime.ParseAddress(req.Address)
			if err != nil {
				abortWithError(c, err)
				return
			}
			dataType = d.DataType
		}

		t, err := mgr.AddTag(req.Name, req.Address, dataType)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Header(apis.Location, fmt.Sprintf("%s/%s", c.Request.URL.Path, t.Name))
		c.JSON(http.StatusCreated, t)
	}
}

func getTag(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := mgr.Tag(c.Param("name"))
		if !ok {
			respond(c, response.ErrResourceNotFound(c.Param("name")))
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func removeTag(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mgr.RemoveTag(c.Param("name")) {
			respond(c, response.ErrResourceNotFound(c.Param("name")))
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func writeTag(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req writeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			klog.V(2).InfoS("Failed to parse write request", "err", err)
			respond(c, response.ErrMalformedJSON)
			return
		}
		t, err := mgr.WriteTag(c.Request.Context(), c.Param("name"), req.Value)
		if errors.Is(err, ErrTagNotFound) {
			respond(c, response.ErrResourceNotFound(c.Param("name")))
			return
		}
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, t)
	}
}

func streamEvents(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := mgr.Subscribe(eventBuffer)
		defer mgr.Unsubscribe(sub.ID)
		klog.V(3).InfoS("Event stream opened", "subscription", sub.ID)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		c.Stream(func(w io.Writer) bool {
			select {
			case e, ok := <-sub.C:
				if !ok {
					return false
				}
				c.SSEvent(string(e.Type), e)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
		klog.V(3).InfoS("Event stream closed", "subscription", sub.ID)
	}
}

func probeBlocks(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		area, ok := s7runtime.StringToStoreAddress[strings.ToUpper(c.DefaultQuery(apis.Area, "DB"))]
		defaultFrom := "0"
		if area == s7runtime.DB {
			defaultFrom = "1"
		}
		from, errFrom := strconv.Atoi(c.DefaultQuery(apis.From, defaultFrom))
		to, errTo := strconv.Atoi(c.DefaultQuery(apis.To, "100"))
		if !ok || errFrom != nil || errTo != nil {
			respond(c, response.ErrInvalidRange(ErrInvalidRange))
			return
		}
		found, err := mgr.ProbeBlocks(c.Request.Context(), area, from, to)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if area == s7runtime.DB {
			c.JSON(http.StatusOK, gin.H{"area": area, "blocks": found})
			return
		}
		c.JSON(http.StatusOK, gin.H{"area": area, "bytes": found})
	}
}

// abortWithError maps domain errors onto coded bodies.
func abortWithError(c *gin.Context, err error) {
	re := responseFor(err)
	if c.Request.Context().Err() != nil {
		klog.V(3).InfoS("Request abandoned by client", "path", c.Request.URL.Path, "err", err)
	} else if response.StatusOf(re) >= http.StatusInternalServerError {
		klog.ErrorS(err, "Request failed", "path", c.Request.URL.Path)
	}
	respond(c, re)
}

func respond(c *gin.Context, errs ...error) {
	me := response.NewMultiError(errs...)
	c.JSON(response.StatusOf(me), me)
}

func responseFor(err error) error {
	var parseErr *s7runtime.ParseError
	switch {
	case errors.As(err, &parseErr), errors.Is(err, tag.ErrDataTypeMismatch):
		return response.ErrInvalidAddress(err)
	case errors.Is(err, tag.ErrDuplicateName):
		var re *tag.RegistryError
		errors.As(err, &re)
		return response.ErrResourceExists(re.Name)
	case errors.Is(err, tag.ErrEmptyName):
		return response.ErrInvalidTagName
	case errors.Is(err, ErrTagNotFound):
		return response.ErrResourceNotFound("tag")
	case errors.Is(err, ErrInvalidRange):
		return response.ErrInvalidRange(err)
	case errors.Is(err, s7runtime.ErrTypeMismatch):
		return response.ErrTypeMismatch(err)
	case errors.Is(err, s7runtime.ErrInvalidAddress):
		return response.ErrInvalidAddress(err)
	case errors.Is(err, s7runtime.ErrUnreachable), errors.Is(err, s7runtime.ErrRejected):
		return response.ErrConnectFailed(err)
	case errors.Is(err, s7runtime.ErrNotConnected):
		return response.ErrNotConnected
	case errors.Is(err, s7runtime.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return response.ErrTimeout
	case errors.Is(err, s7runtime.ErrBusy):
		return response.ErrBusy
	default:
		return response.ErrInternal(err)
	}
}
