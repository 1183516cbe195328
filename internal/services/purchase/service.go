package purchase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sitegen/internal/models"
	"sitegen/internal/services/ledger"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v72"
)

type Service interface {
	ListPacks() []Pack
	CreateTokenPurchase(ctx context.Context, userID uint, packID string) (*PurchaseIntent, error)
	ConfirmTokenPurchase(ctx context.Context, userID uint, intentID string) (*ConfirmResult, error)
}

// Locker is the subset of the cache service the purchase flow uses to
// fence concurrent confirmations of the same intent. May be nil: the
// authoritative duplicate check is the TOKEN_PURCHASE ledger entry
// keyed by payment intent, the fence only narrows the race window.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

type service struct {
	gateway PaymentGateway
	ledger  ledger.Service
	cache   Locker
	logger  *logrus.Logger
}

func NewService(gateway PaymentGateway, ledgerSvc ledger.Service, cache Locker, logger *logrus.Logger) Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &service{
		gateway: gateway,
		ledger:  ledgerSvc,
		cache:   cache,
		logger:  logger,
	}
}

func (s *service) ListPacks() []Pack {
	return Packs
}

func (s *service) CreateTokenPurchase(ctx context.Context, userID uint, packID string) (*PurchaseIntent, error) {
	pack, ok := packByID(packID)
	if !ok {
		return nil, ErrUnknownPack
	}

	intent, err := s.gateway.CreateIntent(pack.PriceCents, pack.Currency, map[string]string{
		"user_id": strconv.FormatUint(uint64(userID), 10),
		"pack_id": pack.ID,
		"tokens":  strconv.FormatInt(pack.Tokens, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"pack_id":   pack.ID,
		"intent_id": intent.ID,
	}).Info("token purchase intent created")

	return &PurchaseIntent{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Pack:         pack,
	}, nil
}

// ConfirmTokenPurchase verifies the payment with the gateway and grants
// the purchased tokens exactly once. The ledger is the durable
// dedupe: a TOKEN_PURCHASE entry carrying this payment intent ID means
// the grant already happened, regardless of redis availability. The
// redis marker additionally fences concurrent confirms of the same
// intent before either has committed.
func (s *service) ConfirmTokenPurchase(ctx context.Context, userID uint, intentID string) (*ConfirmResult, error) {
	intent, err := s.gateway.GetIntent(intentID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment intent: %w", err)
	}

	if intent.Metadata["user_id"] != strconv.FormatUint(uint64(userID), 10) {
		return nil, ErrIntentMismatch
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, ErrPaymentNotComplete
	}

	tokens, err := strconv.ParseInt(intent.Metadata["tokens"], 10, 64)
	if err != nil || tokens <= 0 {
		return nil, fmt.Errorf("payment intent %s has no token amount", intentID)
	}

	existing, err := s.ledger.FindTransactionByMetadata(ctx, models.EntryTypeTokenPurchase, "payment_intent", intentID)
	if err != nil {
		return nil, fmt.Errorf("check prior confirmation: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyConfirmed
	}

	if s.cache != nil {
		acquired, err := s.cache.AcquireLock(ctx, confirmationKeyPrefix+intentID, confirmationTTL)
		if err != nil {
			s.logger.WithError(err).Warn("purchase confirmation fence unavailable")
		} else if !acquired {
			return nil, ErrAlreadyConfirmed
		}
	}

	granted, err := s.ledger.GrantTokens(ctx, userID, tokens, models.EntryTypeTokenPurchase,
		fmt.Sprintf("Token purchase (%s pack)", intent.Metadata["pack_id"]),
		map[string]interface{}{
			"payment_intent": intentID,
			"pack_id":        intent.Metadata["pack_id"],
			"amount_cents":   intent.Amount,
			"currency":       intent.Currency,
		})
	if err != nil || !granted {
		if s.cache != nil {
			// Let the client retry a failed grant.
			_ = s.cache.ReleaseLock(ctx, confirmationKeyPrefix+intentID)
		}
		if err != nil {
			return nil, fmt.Errorf("grant purchased tokens: %w", err)
		}
		return nil, fmt.Errorf("grant purchased tokens declined for user %d", userID)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"intent_id": intentID,
		"tokens":    tokens,
	}).Info("token purchase confirmed")

	return &ConfirmResult{IntentID: intentID, TokensGranted: tokens}, nil
}
