package workpointsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func PublishSyncRun(ctx context.Context, runId uint, organizationId string, connectionId uint) error {
	topicName := strings.TrimSpace(os.Getenv("WORKPOINT_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "workpoint-sync"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if utils.EnvBoolDefault("WORKPOINT_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	payload := SyncPubSubPayload{
		RunId:          runId,
		OrganizationId: organizationId,
		ConnectionId:   connectionId,
	}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.EnvBoolDefault("ENABLE_WORKPOINT_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 || payload.OrganizationId == "" {
			c.Status(204)
			return
		}

		_ = ProcessSyncRun(c.Request.Context(), payload)
		c.Status(204)
	}
}

// ProcessSyncRun executes one queued sync run end to end: marks it running,
// drives the engine over the run's window, persists per-record errors, and
// finishes the run as success, partial, or failed.
func ProcessSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	if payload.RunId == 0 || payload.OrganizationId == "" {
		return errors.New("invalid payload")
	}

	ctx = utils.SetOrganizationIdInContext(ctx, payload.OrganizationId)
	db := config.GetDB().WithContext(ctx)

	var run models.SyncRun
	if err := db.Where("id = ? AND organization_id = ?", payload.RunId, payload.OrganizationId).Take(&run).Error; err != nil {
		return err
	}

	if run.Status == models.SyncRunStatusSuccess || run.Status == models.SyncRunStatusFailed || run.Status == models.SyncRunStatusPartial {
		return nil
	}

	var conn models.WorkPointConnection
	if err := db.Where("id = ? AND organization_id = ?", run.ConnectionId, payload.OrganizationId).Take(&conn).Error; err != nil {
		return err
	}
	if conn.Status != models.IntegrationStatusConnected {
		return errors.New("workpoint not connected")
	}

	now := time.Now()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}

	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	client, err := NewClient(conn.AuthSecretRef)
	if err != nil {
		return finishRun(ctx, db, &run, conn, SyncResult{Success: false, Error: err.Error()}, *startedAt)
	}
	defer client.ReleaseSession(ctx)

	engine := NewEngine(client, NewGormSalesStore(config.GetDB()), config.GetLogger())
	result := engine.Synchronize(ctx, payload.OrganizationId, run.StartDate, run.EndDate, DecodeOptions(run.OptionsJSON))

	if result.Changes != nil {
		for _, itemErr := range result.Changes.Errors {
			_ = createRunError(ctx, db, run.ID, payload.OrganizationId, itemErr)
		}
	}

	return finishRun(ctx, db, &run, conn, result, *startedAt)
}

func finishRun(ctx context.Context, db *gorm.DB, run *models.SyncRun, conn models.WorkPointConnection, result SyncResult, startedAt time.Time) error {
	finishedAt := time.Now()
	durationMs := finishedAt.Sub(startedAt).Milliseconds()

	recordsSynced := 0
	errorCount := 0
	stats := map[string]int{}
	if result.Summary != nil {
		stats["devRecordsCount"] = result.Summary.DevRecordsCount
		stats["customerSalesCount"] = result.Summary.CustomerSalesCount
	}
	if result.Changes != nil {
		recordsSynced = len(result.Changes.Created) + len(result.Changes.Updated)
		errorCount = len(result.Changes.Errors)
		stats["created"] = len(result.Changes.Created)
		stats["updated"] = len(result.Changes.Updated)
		stats["deleted"] = len(result.Changes.Deleted)
		stats["orphaned"] = len(result.Changes.Orphaned)
		stats["skipped"] = result.Changes.Skipped
	}

	status := models.SyncRunStatusSuccess
	if !result.Success {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}

	statsJSON, _ := json.Marshal(stats)
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    durationMs,
		"records_synced": recordsSynced,
		"error_count":    errorCount,
		"stats_json":     statsJSON,
	}).Error; err != nil {
		return err
	}

	connUpdates := map[string]interface{}{
		"last_sync_at": finishedAt,
	}
	if status == models.SyncRunStatusSuccess {
		connUpdates["last_success_sync_at"] = finishedAt
	}
	if err := db.Model(&models.WorkPointConnection{}).
		Where("id = ? AND organization_id = ?", conn.ID, run.OrganizationId).
		Updates(connUpdates).Error; err != nil {
		return err
	}
	_ = config.RemoveRedisKey(statusCacheKey(run.OrganizationId))

	if !result.Success {
		return errors.New(result.Error)
	}
	return nil
}

func createRunError(ctx context.Context, db *gorm.DB, runId uint, organizationId string, itemErr SyncItemError) error {
	errRec := models.SyncRunError{
		SyncRunId:      runId,
		OrganizationId: organizationId,
		EntityType:     itemErr.Type,
		SourceRecordId: itemErr.SourceRecordId,
		LedgerRowId:    itemErr.LedgerRowId,
		ErrorCode:      "write_failed",
		Message:        itemErr.Error,
		Retryable:      true,
	}
	return db.WithContext(ctx).Create(&errRec).Error
}
