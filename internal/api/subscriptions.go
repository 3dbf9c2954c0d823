// subscriptions.go implements the AWS Marketplace checkout flow.
//
// Checkout is the endpoint AWS posts the customer's browser to after they
// subscribe in the marketplace console: the registration token in the form
// body is exchanged for the customer's identifiers via ResolveCustomer, the
// identifiers are handed to the frontend as cookies, and the customer is
// redirected into the platform to finish signup. Finalize is called by the
// platform once the customer has picked (or created) their organization; it
// records the pending subscription row the notification reconciler later
// promotes.
//
// The file also carries the cloud free-trial endpoints: availability check
// and trial creation, gated by the permanent organization_free_trials marker.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/marketplacemetering"
	meteringtypes "github.com/aws/aws-sdk-go-v2/service/marketplacemetering/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vantage-compute/vantage-billing/internal/config"
	"github.com/vantage-compute/vantage-billing/internal/db/models"
	"github.com/vantage-compute/vantage-billing/internal/db/repositories"
	"github.com/vantage-compute/vantage-billing/internal/metering"
	"github.com/vantage-compute/vantage-billing/internal/tenant"
	"github.com/vantage-compute/vantage-billing/internal/tiering"
)

// marketplaceTokenField is the form field name AWS uses in the checkout POST.
const marketplaceTokenField = "x-amzn-marketplace-token"

// checkoutCookieMaxAge bounds how long the identifier cookies live. The
// customer is expected to finish signup within the hour; afterwards they can
// restart checkout from the marketplace console.
const checkoutCookieMaxAge = 3600

// Directory enumerates tenant databases. *tenant.Manager is the production
// implementation.
type Directory interface {
	List(ctx context.Context) ([]string, error)
	Handle(ctx context.Context, name string) (*tenant.Handle, error)
}

// SubscriptionHandler serves the marketplace checkout endpoints.
type SubscriptionHandler struct {
	tenants  Directory
	resolver metering.ResolverFactory
	cfg      *config.MarketplaceConfig
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(tenants Directory, resolver metering.ResolverFactory, cfg *config.MarketplaceConfig) *SubscriptionHandler {
	return &SubscriptionHandler{
		tenants:  tenants,
		resolver: resolver,
		cfg:      cfg,
	}
}

// Checkout exchanges the marketplace registration token for the customer's
// identifiers and redirects the browser into the platform signup flow.
// POST /subscriptions/aws-subscription
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	token := c.PostForm(marketplaceTokenField)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing marketplace registration token"})
		return
	}

	resolver, err := h.resolver(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build marketplace client"})
		return
	}

	out, err := resolver.ResolveCustomer(c.Request.Context(), &marketplacemetering.ResolveCustomerInput{
		RegistrationToken: aws.String(token),
	})
	if err != nil {
		var expired *meteringtypes.ExpiredTokenException
		var invalid *meteringtypes.InvalidTokenException
		if errors.As(err, &expired) || errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired marketplace token"})
			return
		}
		var throttled *meteringtypes.ThrottlingException
		if errors.As(err, &throttled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "marketplace API throttled, retry shortly"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to resolve marketplace customer"})
		return
	}

	// The frontend reads these during signup and posts them back to finalize,
	// so they are intentionally not HttpOnly.
	domain := h.cfg.CookieDomain
	c.SetCookie("customer_identifier", aws.ToString(out.CustomerIdentifier), checkoutCookieMaxAge, "/", domain, true, false)
	c.SetCookie("customer_aws_account_id", aws.ToString(out.CustomerAWSAccountId), checkoutCookieMaxAge, "/", domain, true, false)
	c.SetCookie("product_code", aws.ToString(out.ProductCode), checkoutCookieMaxAge, "/", domain, true, false)

	c.Redirect(http.StatusSeeOther, h.cfg.CheckoutRedirectURL)
}

// finalizeRequest is the JSON body of the finalize endpoint.
type finalizeRequest struct {
	OrganizationID       string `json:"organization_id" binding:"required"`
	CustomerIdentifier   string `json:"customer_identifier" binding:"required"`
	CustomerAWSAccountID string `json:"customer_aws_account_id" binding:"required"`
	ProductCode          string `json:"product_code" binding:"required"`
}

// Finalize records a pending marketplace subscription for an organization.
// A live free-trial subscription is removed in the same transaction: the
// incoming marketplace subscription supersedes it, and keeping both would
// violate the one-subscription-per-organization rule.
// POST /subscriptions/aws-subscription/finalize
func (h *SubscriptionHandler) Finalize(c *gin.Context) {
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if _, err := uuid.Parse(req.OrganizationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization ID"})
		return
	}

	ctx := c.Request.Context()

	handle, err := h.tenants.Handle(ctx, req.OrganizationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		return
	}

	tx, err := handle.DB.BeginTxx(ctx, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to begin transaction"})
		return
	}
	defer tx.Rollback()

	pendingRepo := repositories.NewPendingSubscriptionRepository(tx)
	subsRepo := repositories.NewSubscriptionRepository(tx)

	existing, err := pendingRepo.GetByOrganizationID(ctx, req.OrganizationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check pending subscriptions"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "a pending marketplace subscription already exists"})
		return
	}

	trialID, err := subsRepo.GetFreeTrialID(ctx, req.OrganizationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check free trial subscription"})
		return
	}
	if trialID != nil {
		if _, err := subsRepo.Delete(ctx, *trialID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove free trial subscription"})
			return
		}
	}

	pending := &models.PendingAwsSubscription{
		OrganizationID:       req.OrganizationID,
		CustomerAWSAccountID: req.CustomerAWSAccountID,
		CustomerIdentifier:   req.CustomerIdentifier,
		ProductCode:          req.ProductCode,
	}
	if err := pendingRepo.Create(ctx, pending); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create pending subscription"})
		return
	}

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to commit transaction"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":              pending.ID,
		"organization_id": pending.OrganizationID,
		"created_at":      pending.CreatedAt,
	})
}

// freeTrialDuration is how long a free-trial subscription lives before the
// expired-subscription cleanup removes it.
const freeTrialDuration = 14 * 24 * time.Hour

// FreeTrialAvailability reports whether an organization can still start a
// free trial. The permanent marker row is the source of truth, not the
// subscription: a trial that already expired still counts as consumed.
// GET /subscriptions/free-trial/check-availability
func (h *SubscriptionHandler) FreeTrialAvailability(c *gin.Context) {
	organizationID := c.Query("organization_id")
	if _, err := uuid.Parse(organizationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization ID"})
		return
	}

	ctx := c.Request.Context()
	handle, err := h.tenants.Handle(ctx, organizationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		return
	}

	consumed, err := handle.FreeTrials.Exists(ctx, organizationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check free trial marker"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"free_trial_available": !consumed})
}

// freeTrialRequest is the JSON body of the free trial creation endpoint.
type freeTrialRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
}

// CreateFreeTrial starts the organization's one free trial: a cloud starter
// subscription expiring after fourteen days, plus the permanent marker that
// blocks a second trial even after the subscription itself is cleaned up.
// Both rows are written in one transaction.
// POST /subscriptions/free-trial
func (h *SubscriptionHandler) CreateFreeTrial(c *gin.Context) {
	var req freeTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if _, err := uuid.Parse(req.OrganizationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization ID"})
		return
	}

	ctx := c.Request.Context()

	handle, err := h.tenants.Handle(ctx, req.OrganizationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		return
	}

	typeID, err := handle.Lookups.TypeIDByName(ctx, models.TypeCloud)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve subscription type"})
		return
	}
	tierID, err := handle.Lookups.TierIDByName(ctx, tiering.TierStarter.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve subscription tier"})
		return
	}

	tx, err := handle.DB.BeginTxx(ctx, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to begin transaction"})
		return
	}
	defer tx.Rollback()

	trials := repositories.NewFreeTrialRepository(tx)
	subsRepo := repositories.NewSubscriptionRepository(tx)

	consumed, err := trials.Exists(ctx, req.OrganizationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check free trial marker"})
		return
	}
	if consumed {
		c.JSON(http.StatusConflict, gin.H{"error": "organization already had its free trial"})
		return
	}

	expiresAt := time.Now().UTC().Add(freeTrialDuration)
	sub := &models.Subscription{
		OrganizationID: req.OrganizationID,
		TypeID:         typeID,
		TierID:         tierID,
		DetailData:     models.SubscriptionDetail{},
		ExpiresAt:      &expiresAt,
		IsFreeTrial:    true,
	}
	if err := subsRepo.Create(ctx, sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create free trial subscription"})
		return
	}

	if err := trials.Create(ctx, req.OrganizationID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create free trial marker"})
		return
	}

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to commit transaction"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":              sub.ID,
		"organization_id": sub.OrganizationID,
		"expires_at":      sub.ExpiresAt,
	})
}
