package workpointsync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// statusCacheTTL bounds staleness of the cached status payload between
// mutations (mutations invalidate eagerly).
const statusCacheTTL = time.Minute

func statusCacheKey(organizationId string) string {
	return "workpoint:status:" + organizationId
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationId, err := resolveOrganizationID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var cached StatusResponse
		if ok, err := config.GetRedisObject(statusCacheKey(organizationId), &cached); err == nil && ok {
			c.JSON(http.StatusOK, cached)
			return
		}

		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), organizationId)
		db := config.GetDB().WithContext(ctx)

		conn, err := getConnection(db, organizationId)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := StatusResponse{
			Connection: ConnectionResponse{
				Status: models.IntegrationStatusDisconnected,
			},
			Settings: DefaultSettings(),
		}
		if conn != nil {
			resp = StatusResponse{
				Connection: ConnectionResponse{
					Status:      conn.Status,
					AccountId:   conn.AccountId,
					AccountName: conn.AccountName,
				},
				LastSyncAt:        formatTime(conn.LastSyncAt),
				LastSuccessSyncAt: formatTime(conn.LastSuccessSyncAt),
				Settings:          DecodeSettings(conn.SettingsJSON),
			}
		}

		_ = config.SetRedisObject(statusCacheKey(organizationId), resp, statusCacheTTL)
		c.JSON(http.StatusOK, resp)
	}
}

func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationId, err := resolveOrganizationID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if strings.TrimSpace(req.AccountId) == "" || strings.TrimSpace(req.APIKey) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "accountId and apiKey are required"})
			return
		}

		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), organizationId)
		db := config.GetDB().WithContext(ctx)

		conn, err := getConnection(db, organizationId)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		now := time.Now()
		accountName := strings.TrimSpace(req.AccountName)
		if accountName == "" {
			accountName = req.AccountId
		}

		if conn == nil {
			conn = &models.WorkPointConnection{
				OrganizationId: organizationId,
				Status:         models.IntegrationStatusConnected,
				AuthType:       "api_key",
				AuthSecretRef:  req.APIKey,
				AccountId:      req.AccountId,
				AccountName:    accountName,
				SettingsJSON:   EncodeSettings(DefaultSettings()),
				UpdatedAt:      now,
			}
			if err := db.Create(conn).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			update := map[string]interface{}{
				"status":          models.IntegrationStatusConnected,
				"auth_type":       "api_key",
				"auth_secret_ref": req.APIKey,
				"account_id":      req.AccountId,
				"account_name":    accountName,
				"updated_at":      now,
			}
			if len(conn.SettingsJSON) == 0 {
				update["settings_json"] = EncodeSettings(DefaultSettings())
			}
			if err := db.Model(conn).Updates(update).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		_ = config.RemoveRedisKey(statusCacheKey(organizationId))
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationId, err := resolveOrganizationID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), organizationId)
		db := config.GetDB().WithContext(ctx)

		conn, err := getConnection(db, organizationId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		if err := db.Model(conn).Updates(map[string]interface{}{
			"status":          models.IntegrationStatusDisconnected,
			"auth_secret_ref": "",
			"updated_at":      time.Now(),
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = config.RemoveRedisKey(statusCacheKey(organizationId))
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationId, err := resolveOrganizationID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req UpdateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), organizationId)
		db := config.GetDB().WithContext(ctx)
		conn, err := getConnection(db, organizationId)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		settings := EncodeSettings(req.Settings)
		if conn == nil {
			conn = &models.WorkPointConnection{
				OrganizationId: organizationId,
				Status:         models.IntegrationStatusDisconnected,
				SettingsJSON:   settings,
			}
			if err := db.Create(conn).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			if err := db.Model(conn).Updates(map[string]interface{}{
				"settings_json": settings,
				"updated_at":    time.Now(),
			}).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		_ = config.RemoveRedisKey(statusCacheKey(organizationId))
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationId, err := resolveOrganizationID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		start, err := utils.ParseDateOnly(req.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startDate"})
			return
		}
		end, err := utils.ParseDateOnly(req.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endDate"})
			return
		}
		if end.Before(start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endDate before startDate"})
			return
		}

		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), organizationId)
		db := config.GetDB().WithContext(ctx)

		conn, err := getConnection(db, organizationId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil || conn.Status != models.IntegrationStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "workpoint is not connected"})
			return
		}

		opts := SyncOptions{DryRun: req.DryRun, DeleteOrphaned: req.DeleteOrphaned}

		// Dry runs have no side effects; answer synchronously.
		if opts.DryRun {
			client, err := NewClient(conn.AuthSecretRef)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			defer client.ReleaseSession(ctx)
			engine := NewEngine(client, NewGormSalesStore(config.GetDB()), config.GetLogger())
			result := engine.Synchronize(ctx, organizationId, start, end, opts)
			c.JSON(http.StatusOK, result)
			return
		}

		// One queued run per organization at a time.
		if locker := config.GetRedisLock(); locker != nil {
			lock, err := locker.Obtain(ctx, "workpoint:sync:"+organizationId, 30*time.Second, nil)
			if err == redislock.ErrNotObtained {
				c.JSON(http.StatusConflict, gin.H{"error": "a sync is already queued for this organization"})
				return
			}
			if err == nil {
				defer lock.Release(ctx)
			}
		}

		run := models.SyncRun{
			OrganizationId: organizationId,
			ConnectionId:   conn.ID,
			Status:         models.SyncRunStatusQueued,
			TriggeredBy:    models.SyncTriggeredManual,
			StartDate:      start,
			EndDate:        end,
			OptionsJSON:    EncodeOptions(opts),
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c.Request.Context(), run.ID, organizationId, conn.ID)

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationId, err := resolveOrganizationID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), organizationId)
		db := config.GetDB().WithContext(ctx)

		var runs []models.SyncRun
		if err := db.Where("organization_id = ?", organizationId).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationId, err := resolveOrganizationID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), organizationId)
		db := config.GetDB().WithContext(ctx)

		var run models.SyncRun
		if err := db.Where("id = ? AND organization_id = ?", id, organizationId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var errs []models.SyncRunError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id desc").Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Errors:          mapErrors(errs),
		}
		c.JSON(http.StatusOK, resp)
	}
}

func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationId, err := resolveOrganizationID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), organizationId)
		db := config.GetDB().WithContext(ctx)

		var run models.SyncRun
		if err := db.Where("id = ? AND organization_id = ?", id, organizationId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Whole-window re-invocation is safe: the sync is idempotent.
		newRun := models.SyncRun{
			OrganizationId: organizationId,
			ConnectionId:   run.ConnectionId,
			Status:         models.SyncRunStatusQueued,
			TriggeredBy:    models.SyncTriggeredRetry,
			StartDate:      run.StartDate,
			EndDate:        run.EndDate,
			OptionsJSON:    run.OptionsJSON,
			ParentRunId:    &run.ID,
		}
		if err := db.Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c.Request.Context(), newRun.ID, organizationId, run.ConnectionId)

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

func resolveOrganizationID(c *gin.Context) (string, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(organizationId) == "" {
		return "", errors.New("unauthorized")
	}
	return strings.TrimSpace(organizationId), nil
}

func getConnection(db *gorm.DB, organizationId string) (*models.WorkPointConnection, error) {
	var conn models.WorkPointConnection
	err := db.Where("organization_id = ?", organizationId).Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		StartDate:     run.StartDate.Format("2006-01-02"),
		EndDate:       run.EndDate.Format("2006-01-02"),
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
	}
}

func mapErrors(errorsList []models.SyncRunError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:             errItem.ID,
			EntityType:     errItem.EntityType,
			SourceRecordId: errItem.SourceRecordId,
			LedgerRowId:    errItem.LedgerRowId,
			Message:        errItem.Message,
			Retryable:      errItem.Retryable,
		})
	}
	return out
}
