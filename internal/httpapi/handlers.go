package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skufu/GoTriage/internal/domain"
	"github.com/Skufu/GoTriage/internal/history"
	"github.com/Skufu/GoTriage/internal/knowledge"
	"github.com/Skufu/GoTriage/internal/triage"
)

const (
	sourceChannelHeader = "X-Source-Channel"

	msgMissingSymptom = "请求数据格式错误，缺少症状描述"
	msgBadRequest     = "请求数据格式错误"
	msgBadPatientFmt  = "患者信息格式错误: "
)

type handlers struct {
	triage     QueryProcessor
	repo       knowledge.Repository
	store      history.Store
	db         HealthChecker
	info       Info
	statsLimit int
	log        *zap.Logger
}

type queryRequest struct {
	Symptom       *string             `json:"symptom"`
	PatientInfo   *domain.PatientInfo `json:"patient_info"`
	ClientStartTS string              `json:"client_start_ts"`
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) readyz(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unhealthy: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "ok"})
}

func (h *handlers) apiInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.info)
}

func (h *handlers) medicalQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err, msgMissingSymptom)
		return
	}
	if req.Symptom == nil {
		respondError(c, http.StatusBadRequest, msgMissingSymptom)
		return
	}

	var patient domain.PatientInfo
	if req.PatientInfo != nil {
		patient = *req.PatientInfo
	}
	if err := patient.Validate(false); err != nil {
		respondError(c, http.StatusBadRequest, msgBadPatientFmt+err.Error())
		return
	}

	channel := domain.ChannelAPI
	if strings.EqualFold(c.GetHeader(sourceChannelHeader), domain.ChannelWeb) {
		channel = domain.ChannelWeb
	}
	h.process(c, *req.Symptom, patient, req.ClientStartTS, channel)
}

func (h *handlers) structuredQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err, msgBadRequest)
		return
	}
	if req.Symptom == nil || req.PatientInfo == nil {
		respondError(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	if err := req.PatientInfo.Validate(true); err != nil {
		respondError(c, http.StatusBadRequest, msgBadPatientFmt+err.Error())
		return
	}
	h.process(c, *req.Symptom, *req.PatientInfo, req.ClientStartTS, domain.ChannelStructured)
}

func (h *handlers) process(c *gin.Context, symptom string, patient domain.PatientInfo, clientStart, channel string) {
	res := h.triage.Process(c.Request.Context(), triage.Query{
		Symptom:       symptom,
		PatientInfo:   patient,
		ClientStartTS: clientStart,
		SourceChannel: channel,
		ClientIP:      c.ClientIP(),
	})
	c.JSON(http.StatusOK, res)
}

func (h *handlers) listHistory(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "page_size", history.DefaultPageSize)
	if h.store == nil {
		c.JSON(http.StatusOK, history.EmptyPage(page, size))
		return
	}

	p, err := h.store.ListQueries(c.Request.Context(), page, size)
	if err != nil {
		h.log.Warn("list history failed", zap.Error(err))
		c.JSON(http.StatusOK, history.EmptyPage(page, size))
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) stats(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, history.Compute(nil))
		return
	}

	outcomes, err := h.store.RecentOutcomes(c.Request.Context(), h.statsLimit)
	if err != nil {
		h.log.Warn("load outcomes failed", zap.Error(err))
		outcomes = nil
	}
	c.JSON(http.StatusOK, history.Compute(outcomes))
}

func (h *handlers) listDiseases(c *gin.Context) {
	details, err := knowledge.AllDetails(c.Request.Context(), h.repo)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": details, "total": len(details)})
}

func (h *handlers) getDisease(c *gin.Context) {
	detail, err := knowledge.Detail(c.Request.Context(), h.repo, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *handlers) searchDiseases(c *gin.Context) {
	symptom := strings.TrimSpace(c.Query("symptom"))
	if symptom == "" {
		respondError(c, http.StatusBadRequest, "symptom query parameter is required")
		return
	}
	diseases, err := knowledge.SearchBySymptom(c.Request.Context(), h.repo, symptom)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": diseases, "total": len(diseases)})
}

func (h *handlers) listGuidelines(c *gin.Context) {
	urgency := knowledge.Urgency(strings.TrimSpace(c.Query("urgency")))
	guidelines, err := h.repo.Guidelines(c.Request.Context(), urgency)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": guidelines, "total": len(guidelines)})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}
