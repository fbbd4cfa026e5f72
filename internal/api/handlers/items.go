package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ffxiv-tools/marketboard-backend/internal/models"
	"github.com/ffxiv-tools/marketboard-backend/internal/servers"
	"github.com/ffxiv-tools/marketboard-backend/internal/services"
)

type ItemHandler struct {
	services     map[models.Category]*services.ItemService
	loaders      map[models.Category]*services.SeedLoader
	catalogPaths map[models.Category]string
	serverSet    *servers.Set
}

func NewItemHandler(itemServices map[models.Category]*services.ItemService, loaders map[models.Category]*services.SeedLoader, catalogPaths map[models.Category]string, serverSet *servers.Set) *ItemHandler {
	return &ItemHandler{
		services:     itemServices,
		loaders:      loaders,
		catalogPaths: catalogPaths,
		serverSet:    serverSet,
	}
}

func (h *ItemHandler) serviceFor(c *gin.Context) (*services.ItemService, bool) {
	category, ok := models.ParseCategory(c.Param("category"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown item category"})
		return nil, false
	}
	svc, ok := h.services[category]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown item category"})
		return nil, false
	}
	return svc, true
}

// GetItems returns all items of a category with market info for the
// requested world or datacenter, refreshing stale prices first
func (h *ItemHandler) GetItems(c *gin.Context) {
	svc, ok := h.serviceFor(c)
	if !ok {
		return
	}

	worlds, ok := h.serverSet.Resolve(c.Param("serverOrDatacenter"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not a valid world or datacenter"})
		return
	}

	items, err := svc.GetItems(c.Request.Context(), worlds...)
	if err != nil {
		if models.IsInvalidArgument(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, items)
}

// RefreshItems forces a refresh of every item in a category for the
// given worlds (?worlds=Cerberus,Moogle), regardless of staleness
func (h *ItemHandler) RefreshItems(c *gin.Context) {
	svc, ok := h.serviceFor(c)
	if !ok {
		return
	}

	var worlds []string
	if raw := c.Query("worlds"); raw != "" {
		worlds = strings.Split(raw, ",")
	}

	items, err := svc.UpdateAllItems(c.Request.Context(), worlds...)
	if err != nil {
		if models.IsInvalidArgument(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": len(items)})
}

// SeedItems reconciles the category's seed catalog against the store and
// returns one settled result per attempted entry
func (h *ItemHandler) SeedItems(c *gin.Context) {
	svc, ok := h.serviceFor(c)
	if !ok {
		return
	}

	loader := h.loaders[svc.Category()]
	catalogPath := h.catalogPaths[svc.Category()]
	if loader == nil || catalogPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no seed catalog configured for category"})
		return
	}

	results, err := loader.AddAllItems(c.Request.Context(), catalogPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}
