package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskpulse/internal/bus"
	"taskpulse/internal/domain"
	"taskpulse/internal/recurrence"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Overridable in tests.
var (
	now   = time.Now
	newID = uuid.NewString
)

// Storage is the persistence surface the handlers need.
type Storage interface {
	GetTask(ctx context.Context, userID, taskID string) (*domain.TaskEntity, error)
	InsertTask(ctx context.Context, ent domain.TaskEntity) error
	UpdateTask(ctx context.Context, upd domain.TaskUpdate) error
	DeleteTask(ctx context.Context, userID, taskID string) error
	ListTasks(ctx context.Context, userID string) ([]domain.TaskEntity, error)

	GetRule(ctx context.Context, userID, taskID string) (*recurrence.RuleEntity, error)
	UpsertRule(ctx context.Context, ent recurrence.RuleEntity) error
	DeactivateRule(ctx context.Context, userID, taskID string) error

	InsertReminder(ctx context.Context, ent domain.ReminderEntity) error
	ListReminders(ctx context.Context, userID string) ([]domain.ReminderEntity, error)
	DeleteReminder(ctx context.Context, userID, reminderID string) error

	AuditByEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditEntity, error)
	AuditByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEntity, error)
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, pub bus.Publisher, auth Authenticator) {
	e.GET("/api/tasks", listTasks(store, auth))
	e.POST("/api/tasks", createTask(store, pub, auth))
	e.GET("/api/tasks/:id", getTask(store, auth))
	e.PUT("/api/tasks/:id", updateTask(store, pub, auth))
	e.DELETE("/api/tasks/:id", deleteTask(store, pub, auth))
	e.PATCH("/api/tasks/:id/complete", toggleComplete(store, pub, auth))

	e.PUT("/api/tasks/:id/recurrence", putRule(store, auth))
	e.GET("/api/tasks/:id/recurrence", getRule(store, auth))
	e.DELETE("/api/tasks/:id/recurrence", deleteRule(store, auth))

	e.POST("/api/tasks/:id/reminders", createReminder(store, auth))
	e.GET("/api/reminders", listReminders(store, auth))
	e.DELETE("/api/reminders/:id", deleteReminder(store, auth))

	e.GET("/api/audit/user", auditByUser(store, auth))
	e.GET("/api/audit/:entityType/:entityID", auditByEntity(store, auth))

	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func listTasks(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		status := c.QueryParam("status")
		switch status {
		case "", "all", "pending", "completed":
		default:
			return c.String(http.StatusBadRequest, "invalid status filter")
		}
		priority := c.QueryParam("priority")
		if priority != "" && !domain.ValidPriority(priority) {
			return c.String(http.StatusBadRequest, "invalid priority filter")
		}

		tasks, err := store.ListTasks(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		resp := tasksResponse{Tasks: make([]taskResponse, 0, len(tasks))}
		for _, t := range tasks {
			if status == "pending" && t.Completed {
				continue
			}
			if status == "completed" && !t.Completed {
				continue
			}
			if priority != "" && t.Priority != priority {
				continue
			}
			resp.Tasks = append(resp.Tasks, toTaskResponse(t))
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func createTask(store Storage, pub bus.Publisher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req taskRequest
		if err := c.Bind(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(req.Title) == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		if req.Priority == "" {
			req.Priority = domain.PriorityMedium
		}
		if !domain.ValidPriority(req.Priority) {
			return c.String(http.StatusBadRequest, "invalid priority")
		}
		if req.IsRecurring {
			if req.RecurringPattern == nil {
				return c.String(http.StatusBadRequest, "recurring task needs a recurring_pattern")
			}
			if err := req.RecurringPattern.Validate(); err != nil {
				return c.String(http.StatusBadRequest, err.Error())
			}
		}

		stamp := now().UTC().Format(domain.TimeFormat)
		ent := domain.TaskEntity{
			Entity:      domain.Entity{PartitionKey: userID, RowKey: newID()},
			Title:       strings.TrimSpace(req.Title),
			Priority:    req.Priority,
			IsRecurring: req.IsRecurring,
			Tags:        encodeTags(req.Tags),
			CreatedAt:   stamp,
			UpdatedAt:   stamp,
		}
		if req.Description != nil {
			ent.Description = *req.Description
		}
		if req.DueDate != nil {
			ent.DueDate = req.DueDate.UTC().Format(domain.TimeFormat)
		}

		if err := store.InsertTask(ctx, ent); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if req.IsRecurring {
			endDate := ""
			if req.RecurrenceEnd != nil {
				endDate = req.RecurrenceEnd.UTC().Format(domain.TimeFormat)
			}
			rule := recurrence.NewRule(userID, ent.RowKey, *req.RecurringPattern, endDate)
			if err := store.UpsertRule(ctx, rule); err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
		}

		publishTaskEvent(ctx, pub, domain.TaskCreated, ent, nil)
		return c.JSON(http.StatusCreated, toTaskResponse(ent))
	}
}

func getTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		task, err := store.GetTask(ctx, userID, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.String(http.StatusNotFound, "task not found")
		}
		return c.JSON(http.StatusOK, toTaskResponse(*task))
	}
}

func updateTask(store Storage, pub bus.Publisher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req taskUpdateRequest
		if err := c.Bind(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
			return c.String(http.StatusBadRequest, "title must not be empty")
		}
		if req.Priority != nil && !domain.ValidPriority(*req.Priority) {
			return c.String(http.StatusBadRequest, "invalid priority")
		}

		task, err := store.GetTask(ctx, userID, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.String(http.StatusNotFound, "task not found")
		}

		old := make(map[string]any)
		stamp := now().UTC().Format(domain.TimeFormat)
		upd := domain.TaskUpdate{
			Entity:    task.Entity,
			UpdatedAt: &stamp,
		}
		if req.Title != nil && *req.Title != task.Title {
			old["title"] = task.Title
			task.Title = strings.TrimSpace(*req.Title)
			upd.Title = &task.Title
		}
		if req.Description != nil && *req.Description != task.Description {
			old["description"] = task.Description
			task.Description = *req.Description
			upd.Description = &task.Description
		}
		if req.Priority != nil && *req.Priority != task.Priority {
			old["priority"] = task.Priority
			task.Priority = *req.Priority
			upd.Priority = &task.Priority
		}
		if req.DueDate != nil {
			due := req.DueDate.UTC().Format(domain.TimeFormat)
			if due != task.DueDate {
				old["due_date"] = task.DueDate
				task.DueDate = due
				upd.DueDate = &task.DueDate
			}
		}
		if req.Tags != nil {
			tags := encodeTags(*req.Tags)
			if tags != task.Tags {
				old["tags"] = decodeTags(task.Tags)
				task.Tags = tags
				upd.Tags = &task.Tags
			}
		}
		task.UpdatedAt = stamp

		if err := store.UpdateTask(ctx, upd); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		publishTaskEvent(ctx, pub, domain.TaskUpdated, *task, old)
		return c.JSON(http.StatusOK, toTaskResponse(*task))
	}
}

// toggleComplete flips the completed flag. Completing a recurring task
// additionally requests the next instance, carrying the stored pattern
// so the relay does not depend on reading the rule back.
func toggleComplete(store Storage, pub bus.Publisher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		task, err := store.GetTask(ctx, userID, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.String(http.StatusNotFound, "task not found")
		}

		old := map[string]any{"completed": task.Completed}
		task.Completed = !task.Completed
		stamp := now().UTC().Format(domain.TimeFormat)
		task.UpdatedAt = stamp
		upd := domain.TaskUpdate{
			Entity:    task.Entity,
			Completed: &task.Completed,
			UpdatedAt: &stamp,
		}
		if err := store.UpdateTask(ctx, upd); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		eventType := domain.TaskUncompleted
		if task.Completed {
			eventType = domain.TaskCompleted
		}
		publishTaskEvent(ctx, pub, eventType, *task, old)

		if task.Completed && task.IsRecurring {
			rule, err := store.GetRule(ctx, userID, task.RowKey)
			if err != nil {
				log.WithError(err).WithField("task", task.RowKey).Warn("could not load recurrence rule for completion")
			} else if rule != nil && rule.Active && !rule.Ends(now()) {
				publishRecurringGenerate(ctx, pub, *task, rule.Pattern())
			}
		}
		return c.JSON(http.StatusOK, toTaskResponse(*task))
	}
}

func deleteTask(store Storage, pub bus.Publisher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		task, err := store.GetTask(ctx, userID, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.String(http.StatusNotFound, "task not found")
		}

		if err := store.DeleteTask(ctx, userID, task.RowKey); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task.IsRecurring {
			if err := store.DeactivateRule(ctx, userID, task.RowKey); err != nil {
				log.WithError(err).WithField("task", task.RowKey).Warn("could not deactivate recurrence rule")
			}
		}
		publishTaskEvent(ctx, pub, domain.TaskDeleted, *task, nil)
		return c.NoContent(http.StatusNoContent)
	}
}

func putRule(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req ruleRequest
		if err := c.Bind(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := req.Pattern.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		task, err := store.GetTask(ctx, userID, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.String(http.StatusNotFound, "task not found")
		}

		endDate := ""
		if req.EndDate != nil {
			endDate = req.EndDate.UTC().Format(domain.TimeFormat)
		}
		rule := recurrence.NewRule(userID, task.RowKey, req.Pattern, endDate)
		if err := store.UpsertRule(ctx, rule); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if !task.IsRecurring {
			recurring := true
			stamp := now().UTC().Format(domain.TimeFormat)
			upd := domain.TaskUpdate{Entity: task.Entity, IsRecurring: &recurring, UpdatedAt: &stamp}
			if err := store.UpdateTask(ctx, upd); err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
		}
		return c.JSON(http.StatusOK, toRuleResponse(rule))
	}
}

func getRule(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		rule, err := store.GetRule(ctx, userID, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if rule == nil {
			return c.String(http.StatusNotFound, "no recurrence rule")
		}
		return c.JSON(http.StatusOK, toRuleResponse(*rule))
	}
}

func deleteRule(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		taskID := c.Param("id")
		rule, err := store.GetRule(ctx, userID, taskID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if rule == nil {
			return c.String(http.StatusNotFound, "no recurrence rule")
		}
		if err := store.DeactivateRule(ctx, userID, taskID); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		recurring := false
		stamp := now().UTC().Format(domain.TimeFormat)
		upd := domain.TaskUpdate{
			Entity:      domain.Entity{PartitionKey: userID, RowKey: taskID},
			IsRecurring: &recurring,
			UpdatedAt:   &stamp,
		}
		if err := store.UpdateTask(ctx, upd); err != nil {
			log.WithError(err).WithField("task", taskID).Warn("could not clear recurring flag")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func createReminder(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req reminderRequest
		if err := c.Bind(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.ReminderType == "" {
			req.ReminderType = domain.ReminderNotification
		}
		if !domain.ValidReminderType(req.ReminderType) {
			return c.String(http.StatusBadRequest, "invalid reminder type")
		}
		if !req.RemindAt.After(now()) {
			return c.String(http.StatusBadRequest, "reminder time is in the past")
		}

		task, err := store.GetTask(ctx, userID, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.String(http.StatusNotFound, "task not found")
		}

		ent := domain.ReminderEntity{
			Entity:       domain.Entity{PartitionKey: userID, RowKey: newID()},
			TaskID:       task.RowKey,
			TaskTitle:    task.Title,
			RemindAt:     req.RemindAt.UTC().Format(domain.TimeFormat),
			ReminderType: req.ReminderType,
			CreatedAt:    now().UTC().Format(domain.TimeFormat),
		}
		if err := store.InsertReminder(ctx, ent); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, toReminderResponse(ent))
	}
}

func listReminders(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		reminders, err := store.ListReminders(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		resp := make([]reminderResponse, 0, len(reminders))
		for _, rem := range reminders {
			resp = append(resp, toReminderResponse(rem))
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func deleteReminder(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := store.DeleteReminder(ctx, userID, c.Param("id")); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func auditByEntity(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		rows, err := store.AuditByEntity(ctx, c.Param("entityType"), c.Param("entityID"), auditLimit(c))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, toAuditResponses(rows))
	}
}

func auditByUser(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		rows, err := store.AuditByUser(ctx, userID, auditLimit(c))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, toAuditResponses(rows))
	}
}

func auditLimit(c echo.Context) int {
	raw := strings.TrimSpace(c.QueryParam("limit"))
	if raw == "" {
		return defaultAuditLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultAuditLimit
	}
	if limit > maxAuditLimit {
		return maxAuditLimit
	}
	return limit
}

func toAuditResponses(rows []domain.AuditEntity) []auditResponse {
	out := make([]auditResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAuditResponse(row))
	}
	return out
}

// publishTaskEvent puts a lifecycle event on the task topic. A publish
// failure is logged but never fails the request; the write already
// happened.
func publishTaskEvent(ctx context.Context, pub bus.Publisher, eventType string, ent domain.TaskEntity, oldValues map[string]any) {
	ev := domain.Event{
		EventType: eventType,
		TaskID:    ent.RowKey,
		UserID:    ent.PartitionKey,
		TaskData:  taskSnapshot(ent, oldValues),
		Timestamp: now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.WithError(err).WithField("task", ent.RowKey).Error("failed to encode task event")
		return
	}
	if err := pub.Publish(ctx, domain.TopicTaskEvents, payload); err != nil {
		log.WithError(err).WithFields(log.Fields{"task": ent.RowKey, "event": eventType}).Error("failed to publish task event")
	}
}

func publishRecurringGenerate(ctx context.Context, pub bus.Publisher, ent domain.TaskEntity, pattern recurrence.Pattern) {
	ev := domain.Event{
		EventType:        domain.RecurringGen,
		TaskID:           ent.RowKey,
		UserID:           ent.PartitionKey,
		TaskData:         taskSnapshot(ent, nil),
		RecurringPattern: &pattern,
		Timestamp:        now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.WithError(err).WithField("task", ent.RowKey).Error("failed to encode recurring event")
		return
	}
	if err := pub.Publish(ctx, domain.TopicRecurringEvents, payload); err != nil {
		log.WithError(err).WithField("task", ent.RowKey).Error("failed to publish recurring event")
	}
}

func taskSnapshot(ent domain.TaskEntity, oldValues map[string]any) *domain.TaskData {
	data := &domain.TaskData{
		Title:       ent.Title,
		Priority:    ent.Priority,
		IsRecurring: ent.IsRecurring,
		Completed:   ent.Completed,
		Tags:        decodeTags(ent.Tags),
		OldValues:   oldValues,
	}
	if ent.Description != "" {
		desc := ent.Description
		data.Description = &desc
	}
	if ent.DueDate != "" {
		if due, err := time.Parse(domain.TimeFormat, ent.DueDate); err == nil {
			data.DueDate = &due
		}
	}
	return data
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return ""
	}
	return string(raw)
}
