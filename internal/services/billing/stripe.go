package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/credits"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/gorm"
)

// StripeService sells credit packages. A completed checkout lands as a
// purchase entry in the ledger, keyed by payment intent so webhook
// retries never double-credit.
type StripeService struct {
	secretKey     string
	webhookSecret string
	credits       *credits.Service
	store         *credits.Store
}

func NewStripeService(cfg models.StripeConfig, creditService *credits.Service, store *credits.Store) *StripeService {
	stripe.Key = cfg.SecretKey

	return &StripeService{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		credits:       creditService,
		store:         store,
	}
}

// CreateCheckoutParams contains parameters for creating a checkout session
type CreateCheckoutParams struct {
	UserID        string
	PackageID     uint
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

// GetPackage loads a purchasable credit package
func (s *StripeService) GetPackage(ctx context.Context, packageID uint) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	err := s.store.DB().WithContext(ctx).Where("id = ?", packageID).First(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("credit package", strconv.FormatUint(uint64(packageID), 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credit package %d: %w", packageID, err)
	}
	return &pkg, nil
}

// ListPackages returns the purchasable packages
func (s *StripeService) ListPackages(ctx context.Context) ([]models.CreditPackage, error) {
	var pkgs []models.CreditPackage
	if err := s.store.DB().WithContext(ctx).Order("credits ASC").Find(&pkgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list credit packages: %w", err)
	}
	return pkgs, nil
}

// CreateCheckoutSession creates a Stripe checkout session for a credit package
func (s *StripeService) CreateCheckoutSession(ctx context.Context, params CreateCheckoutParams) (*stripe.CheckoutSession, error) {
	if params.UserID == "" {
		return nil, models.NewValidationError("user ID is required", nil)
	}

	pkg, err := s.GetPackage(ctx, params.PackageID)
	if err != nil {
		return nil, err
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(pkg.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata: map[string]string{
			"user_id":       params.UserID,
			"package_id":    strconv.FormatUint(uint64(pkg.ID), 10),
			"credit_amount": strconv.FormatInt(pkg.Credits, 10),
		},
	}

	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}

	sess, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	fiberlog.Infof("Created checkout session %s for user %s (%d credits)",
		sess.ID, params.UserID, pkg.Credits)

	return sess, nil
}

// HandleWebhook processes Stripe webhook events
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return fmt.Errorf("failed to verify webhook signature: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutSessionCompleted(ctx, event)
	default:
		return nil
	}
}

func (s *StripeService) handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	userID := sess.Metadata["user_id"]
	creditAmount, err := strconv.ParseInt(sess.Metadata["credit_amount"], 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse credit amount: %w", err)
	}
	if userID == "" || creditAmount <= 0 {
		return fmt.Errorf("invalid checkout session metadata")
	}

	paymentIntentID := ""
	if sess.PaymentIntent != nil {
		paymentIntentID = sess.PaymentIntent.ID
	}

	if paymentIntentID != "" {
		credited, err := s.store.HasTransactionForPaymentIntent(ctx, paymentIntentID)
		if err != nil {
			return err
		}
		if credited {
			fiberlog.Warnf("Payment intent %s already credited, skipping webhook replay", paymentIntentID)
			return nil
		}
	}

	_, err = s.credits.Credit(ctx, models.CreditParams{
		UserID:            userID,
		Amount:            creditAmount,
		Kind:              models.TransactionPurchase,
		Description:       fmt.Sprintf("Credit purchase via Stripe (%d credits)", creditAmount),
		PaymentIntentID:   paymentIntentID,
		CheckoutSessionID: sess.ID,
		Metadata: models.Metadata{
			"stripe_session_id": sess.ID,
			"amount_paid":       float64(sess.AmountTotal) / 100.0,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add purchased credits: %w", err)
	}

	return nil
}
