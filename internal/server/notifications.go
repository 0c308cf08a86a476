package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/smallbiznis/gigledger/internal/notification/domain"
	"github.com/smallbiznis/gigledger/internal/notification/store"
	"github.com/smallbiznis/gigledger/pkg/db/pagination"
)

type notificationStateRequest struct {
	UserID int64 `json:"userId"`
}

type listNotificationsResponse struct {
	Data     []notificationdomain.View `json:"data"`
	PageInfo pagination.PageInfo       `json:"page_info"`
}

func (s *Server) ListUserNotifications(c *gin.Context) {
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	page, err := bindPage(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	q, err := notificationQuery(c, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views, err := s.store.ListForUser(c.Request.Context(), userID, q)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	items, info, err := pagination.Page(views, page.Size(), func(v notificationdomain.View) pagination.Cursor {
		return pagination.Cursor{ID: v.ID, Timestamp: v.Timestamp.UTC().Format(time.RFC3339Nano)}
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, listNotificationsResponse{Data: items, PageInfo: info})
}

func (s *Server) UnreadCount(c *gin.Context) {
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	n, err := s.store.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"unread": n}})
}

func (s *Server) ListProjectNotifications(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("id"))
	if projectID == "" {
		AbortWithError(c, newValidationError("project_id", "invalid_project_id", "invalid project id"))
		return
	}

	page, err := bindPage(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	q, err := notificationQuery(c, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	evs, err := s.store.ListForProject(c.Request.Context(), projectID, q)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	items, info, err := pagination.Page(evs, page.Size(), func(ev notificationdomain.Event) pagination.Cursor {
		return pagination.Cursor{ID: ev.ID, Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano)}
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": info})
}

func (s *Server) GetNotification(c *gin.Context) {
	id, err := notificationID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ev, err := s.store.GetEvent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ev})
}

func (s *Server) MarkNotificationRead(c *gin.Context) {
	s.updateNotificationState(c, s.store.MarkRead)
}

func (s *Server) MarkNotificationActioned(c *gin.Context) {
	s.updateNotificationState(c, s.store.MarkActioned)
}

type stateMarker func(ctx context.Context, eventID string, userID int64) (notificationdomain.EventState, error)

func (s *Server) updateNotificationState(c *gin.Context, mark stateMarker) {
	id, err := notificationID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := stateUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	state, err := mark(c.Request.Context(), id, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": state})
}

func notificationID(c *gin.Context) (string, error) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		return "", newValidationError("id", "invalid_id", "invalid id")
	}
	return id.String(), nil
}

// stateUserID reads the acting user from the JSON body, then user_id, then X-Actor-Id.
func stateUserID(c *gin.Context) (int64, error) {
	var req notificationStateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			return 0, invalidRequestError()
		}
	}
	if req.UserID > 0 {
		return req.UserID, nil
	}
	raw := c.Query("user_id")
	if raw == "" {
		raw = c.GetHeader(HeaderActorID)
	}
	return parseUserID(raw)
}

func notificationQuery(c *gin.Context, page pagination.Pagination) (store.Query, error) {
	q := store.Query{Limit: page.Size() + 1}

	cursor, err := pagination.DecodeCursor(strings.TrimSpace(page.PageToken))
	if err != nil {
		return store.Query{}, err
	}
	if cursor != nil {
		q.Before = cursor.ID
	}

	unread, err := parseOptionalBool(c.Query("unread"))
	if err != nil {
		return store.Query{}, newValidationError("unread", "invalid_unread", "invalid unread flag")
	}
	if unread != nil {
		q.UnreadOnly = *unread
	}

	since, err := parseOptionalTime(c.Query("since"), false)
	if err != nil {
		return store.Query{}, newValidationError("since", "invalid_since", "invalid since")
	}
	if since != nil {
		q.Since = *since
	}

	for _, t := range splitList(c.QueryArray("types")) {
		q.Types = append(q.Types, notificationdomain.EventType(t))
	}
	return q, nil
}

// bindPage accepts limit as an alias of page_size.
func bindPage(c *gin.Context) (pagination.Pagination, error) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		return page, invalidRequestError()
	}
	if limit := c.Query("limit"); limit != "" && page.PageSize == 0 {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return page, newValidationError("limit", "invalid_limit", "invalid limit")
		}
		page.PageSize = n
	}
	return page, nil
}
