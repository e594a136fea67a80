package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elonfeng/pulsebot/internal/admission"
	"github.com/elonfeng/pulsebot/pkg/notify"
	"github.com/elonfeng/pulsebot/pkg/price"
	"github.com/elonfeng/pulsebot/pkg/pricealert"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.sched.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleTenant(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data":                  s.admission.Summary(c.Param("tenant")),
		"feed_interval_minutes": int(s.sched.FeedInterval() / time.Minute),
	})
}

func (s *Server) handleSetDestination(c *gin.Context) {
	var req struct {
		Destination string `json:"destination" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	s.respond(c, http.StatusOK, s.admission.SetDefaultDestination(c.Request.Context(), c.Param("tenant"), req.Destination))
}

func (s *Server) handleSetLimit(c *gin.Context) {
	var req struct {
		Limit *int `json:"limit" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	s.respond(c, http.StatusOK, s.admission.SetFeedLimit(c.Request.Context(), c.Param("tenant"), *req.Limit))
}

func (s *Server) handleSetPollInterval(c *gin.Context) {
	var req struct {
		Minutes *int `json:"minutes" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	err := s.admission.SetPollInterval(c.Request.Context(), c.Param("tenant"), time.Duration(*req.Minutes)*time.Minute)
	s.respond(c, http.StatusOK, err)
}

func (s *Server) handleSetDestinationSettings(c *gin.Context) {
	var req struct {
		Limit         *int  `json:"limit"`
		AllowMultiple *bool `json:"allow_multiple"`
	}
	if !bind(c, &req) {
		return
	}
	ctx, tenant, dest := c.Request.Context(), c.Param("tenant"), c.Param("dest")
	if req.Limit != nil {
		if err := s.admission.SetDestinationLimit(ctx, tenant, dest, *req.Limit); err != nil {
			s.respond(c, 0, err)
			return
		}
	}
	if req.AllowMultiple != nil {
		if err := s.admission.SetDestinationAllowMultiple(ctx, tenant, dest, *req.AllowMultiple); err != nil {
			s.respond(c, 0, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": s.admission.Summary(tenant).Destinations[dest]})
}

func (s *Server) handleManagers(c *gin.Context) {
	managers := s.admission.Managers(c.Param("tenant"))
	c.JSON(http.StatusOK, gin.H{"data": managers, "count": len(managers)})
}

func (s *Server) handleAddManager(c *gin.Context) {
	s.respond(c, http.StatusCreated, s.admission.AddManager(c.Request.Context(), c.Param("tenant"), c.Param("ref")))
}

func (s *Server) handleRemoveManager(c *gin.Context) {
	s.respond(c, http.StatusOK, s.admission.RemoveManager(c.Request.Context(), c.Param("tenant"), c.Param("ref")))
}

func (s *Server) handleAddFeed(c *gin.Context) {
	var req struct {
		URL         string `json:"url" binding:"required"`
		Destination string `json:"destination"`
	}
	if !bind(c, &req) {
		return
	}
	sub, err := s.admission.AddFeedSubscription(c.Request.Context(), c.Param("tenant"), req.URL, req.Destination)
	if err != nil {
		s.respond(c, 0, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": sub})
}

func (s *Server) handleRemoveFeed(c *gin.Context) {
	sub, err := s.admission.RemoveFeedSubscription(c.Request.Context(), c.Param("tenant"), c.Param("ref"))
	if err != nil {
		s.respond(c, 0, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) handleKeywords(c *gin.Context) {
	kws, err := s.admission.Keywords(c.Param("tenant"), c.Param("ref"))
	if err != nil {
		s.respond(c, 0, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": kws, "count": len(kws)})
}

func (s *Server) handleAddKeyword(c *gin.Context) {
	var req struct {
		Keyword string `json:"keyword" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	err := s.admission.AddKeyword(c.Request.Context(), c.Param("tenant"), c.Param("ref"), req.Keyword)
	s.respond(c, http.StatusCreated, err)
}

func (s *Server) handleRemoveKeyword(c *gin.Context) {
	err := s.admission.RemoveKeyword(c.Request.Context(), c.Param("tenant"), c.Param("ref"), c.Param("keyword"))
	s.respond(c, http.StatusOK, err)
}

func (s *Server) handleListAlerts(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner is required"})
		return
	}
	alerts := s.admission.ListAlerts(owner)
	if alerts == nil {
		alerts = []admission.IndexedAlert{}
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts, "count": len(alerts)})
}

func (s *Server) handleAddAlert(c *gin.Context) {
	var req struct {
		Owner     string   `json:"owner" binding:"required"`
		Asset     string   `json:"asset" binding:"required"`
		Condition string   `json:"condition" binding:"required"`
		Target    *float64 `json:"target" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	a, err := s.admission.AddAlert(c.Request.Context(), req.Owner, req.Asset, req.Condition, *req.Target)
	if err != nil {
		s.respond(c, 0, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"data":    a,
		"message": "I will notify you when " + a.Asset + " is " + a.Condition.Symbol() + " " + notify.USD(a.Target),
	})
}

func (s *Server) handleRemoveAlert(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner is required"})
		return
	}
	a, err := s.admission.RemoveAlertRef(c.Request.Context(), owner, c.Param("ref"))
	if err != nil {
		s.respond(c, 0, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": a})
}

func (s *Server) handleIntervals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"feed_minutes":  int(s.sched.FeedInterval() / time.Minute),
		"price_seconds": int(s.sched.PriceInterval() / time.Second),
	})
}

func (s *Server) handleSetFeedInterval(c *gin.Context) {
	var req struct {
		Minutes int `json:"minutes" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	err := s.sched.SetFeedInterval(c.Request.Context(), time.Duration(req.Minutes)*time.Minute)
	s.respond(c, http.StatusOK, err)
}

func (s *Server) handlePrice(c *gin.Context) {
	asset := price.NormalizeID(c.Param("asset"))
	q, err := s.quotes.Quote(c.Request.Context(), asset)
	switch {
	case errors.Is(err, price.ErrNoQuote):
		c.JSON(http.StatusNotFound, gin.H{"error": "could not find price data for " + asset})
		return
	case err != nil:
		s.log.Warn().Err(err).Str("asset", asset).Msg("price lookup")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not fetch cryptocurrency data, try again later"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset": asset,
		"name":  pricealert.AssetTitle(asset),
		"data":  q,
		"display": gin.H{
			"price":      notify.USD(q.USD),
			"change_24h": formatPercent(q.Change24h),
			"market_cap": notify.USD(q.MarketCap),
			"volume_24h": notify.USD(q.Volume24h),
		},
	})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// respond writes err with its mapped status, or {"status":"ok"} with okStatus.
func (s *Server) respond(c *gin.Context, okStatus int, err error) {
	if err == nil {
		c.JSON(okStatus, gin.H{"status": "ok"})
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, admission.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, admission.ErrNotFound),
		errors.Is(err, admission.ErrIndexOutOfRange),
		errors.Is(err, admission.ErrKeywordNotFound),
		errors.Is(err, admission.ErrNotManager):
		return http.StatusNotFound
	case errors.Is(err, admission.ErrTenantQuotaExceeded),
		errors.Is(err, admission.ErrDestinationQuotaExceeded),
		errors.Is(err, admission.ErrMultipleNotAllowed),
		errors.Is(err, admission.ErrKeywordExists),
		errors.Is(err, admission.ErrAlreadyManager):
		return http.StatusConflict
	case errors.Is(err, admission.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, admission.ErrNoDestination),
		errors.Is(err, admission.ErrInvalidURL),
		errors.Is(err, admission.ErrUnknownAsset),
		errors.Is(err, admission.ErrInvalidCondition),
		errors.Is(err, admission.ErrInvalidTarget),
		errors.Is(err, admission.ErrInvalidLimit),
		errors.Is(err, admission.ErrIntervalTooShort),
		errors.Is(err, admission.ErrEmptyKeyword):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
