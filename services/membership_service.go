package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"commerce-service/models"
	"commerce-service/repository"
	"commerce-service/sender"

	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const membershipSource = "stripe_checkout"

// grantRetries bounds the optimistic-concurrency retry loop. The merge is
// idempotent, so a retry after a concurrent write converges immediately.
const grantRetries = 3

// MembershipService applies completed membership checkouts to profiles and
// mints self-service billing portal sessions.
type MembershipService interface {
	// HandleCheckoutCompleted runs the grant for one completed checkout.
	// Irrelevant sessions and missing profiles are benign skips (nil), not
	// errors; only store failures surface.
	HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) *ServiceError
	CreatePortalSession(ctx context.Context, userID string) (string, *ServiceError)
}

type membershipServiceImpl struct {
	repo           repository.ProfileRepository
	gateway        PaymentGateway
	mail           sender.EmailSender
	membershipSlug string
	planName       string
	siteURL        string
	logger         *zap.Logger
	now            func() time.Time
	notify         func(fn func()) // dispatches the best-effort notification
}

func NewMembershipService(
	repo repository.ProfileRepository,
	gateway PaymentGateway,
	mail sender.EmailSender,
	membershipSlug, planName, siteURL string,
	logger *zap.Logger,
) MembershipService {
	return &membershipServiceImpl{
		repo:           repo,
		gateway:        gateway,
		mail:           mail,
		membershipSlug: membershipSlug,
		planName:       planName,
		siteURL:        siteURL,
		logger:         logger,
		now:            time.Now,
		notify:         func(fn func()) { go fn() },
	}
}

func (s *membershipServiceImpl) HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) *ServiceError {
	slugs := models.SlugsFromMetadata(sess.Metadata["product_slugs"])
	if !containsSlug(slugs, s.membershipSlug) {
		s.logger.Debug("Checkout does not include the membership product",
			zap.String("session_id", sess.ID),
		)
		return nil
	}

	if s.repo == nil {
		return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Profile store is not configured"}
	}

	email := payerEmail(sess)
	profile, err := s.resolveProfile(ctx, sess.Metadata["user_id"], email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Likely a buyer who has not finished account setup. Acknowledge
			// so the gateway does not keep redelivering.
			s.logger.Warn("No profile found for completed membership checkout",
				zap.String("session_id", sess.ID),
				zap.String("metadata_user_id", sess.Metadata["user_id"]),
			)
			return nil
		}
		s.logger.Error("Profile lookup failed", zap.String("session_id", sess.ID), zap.Error(err))
		return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to resolve profile"}
	}

	if svcErr := s.grant(ctx, profile, sess); svcErr != nil {
		return svcErr
	}

	s.dispatchConfirmation(email, profile)
	return nil
}

// grant performs the read-merge-write. Plan union and expiration max are
// both idempotent, so duplicate or reordered deliveries converge on the
// same row state.
func (s *membershipServiceImpl) grant(ctx context.Context, profile *models.MembershipProfile, sess *stripe.CheckoutSession) *ServiceError {
	for attempt := 0; attempt < grantRetries; attempt++ {
		now := s.now()

		plans := models.NewPlanSet(profile.MembershipPlans...)
		plans.Add(s.planName)

		expiry := models.LaterOf(profile.MembershipExpiry, now.AddDate(1, 0, 0))

		memberSince := now
		if profile.IsMember && profile.MemberSince != nil {
			memberSince = *profile.MemberSince
		}

		updates := map[string]interface{}{
			"is_member":         true,
			"membership_plans":  plans.List(),
			"member_since":      memberSince,
			"membership_expiry": expiry,
			"membership_source": membershipSource,
		}
		if sess.Customer != nil && sess.Customer.ID != "" {
			updates["stripe_customer_id"] = sess.Customer.ID
		}

		applied, err := s.repo.ApplyMembership(ctx, profile.ID, profile.UpdatedAt, updates)
		if err != nil {
			s.logger.Error("Membership update failed",
				zap.String("user_id", profile.UserID),
				zap.Error(err),
			)
			return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update membership profile"}
		}
		if applied {
			s.logger.Info("Membership granted",
				zap.String("user_id", profile.UserID),
				zap.String("session_id", sess.ID),
				zap.Time("expires", expiry),
			)
			return nil
		}

		// The row changed between read and write; re-read and re-merge.
		fresh, err := s.repo.FindByUserID(ctx, profile.UserID)
		if err != nil {
			return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update membership profile"}
		}
		profile = fresh
	}

	return &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to update membership profile"}
}

// resolveProfile prefers the metadata user id; anonymous checkouts fall back
// to a case-insensitive lookup by the payer's email.
func (s *membershipServiceImpl) resolveProfile(ctx context.Context, metaUserID, email string) (*models.MembershipProfile, error) {
	if metaUserID != "" && metaUserID != models.GuestUserID {
		profile, err := s.repo.FindByUserID(ctx, metaUserID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if email == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return s.repo.FindByEmail(ctx, email)
}

func (s *membershipServiceImpl) dispatchConfirmation(email string, profile *models.MembershipProfile) {
	if s.mail == nil || email == "" {
		s.logger.Info("Skipping membership confirmation email",
			zap.String("user_id", profile.UserID),
			zap.Bool("sender_configured", s.mail != nil),
		)
		return
	}

	userID := profile.UserID
	s.notify(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		subject := "Welcome to the club"
		body := fmt.Sprintf(
			"<p>Your %s is active. Manage it any time at %s/account.</p>",
			s.planName, s.siteURL,
		)
		if _, err := s.mail.SendEmail(ctx, email, subject, body); err != nil {
			// Best-effort only: the grant already happened.
			s.logger.Warn("Membership confirmation email failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	})
}

func (s *membershipServiceImpl) CreatePortalSession(ctx context.Context, userID string) (string, *ServiceError) {
	if s.repo == nil {
		return "", &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Profile store is not configured"}
	}
	if s.gateway == nil {
		return "", &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Payment provider is not configured"}
	}

	profile, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", &ServiceError{StatusCode: http.StatusNotFound, Message: "No profile found"}
		}
		return "", &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Failed to resolve profile"}
	}
	if profile.StripeCustomerID == nil || *profile.StripeCustomerID == "" {
		return "", &ServiceError{StatusCode: http.StatusNotFound, Message: "No billing account on file"}
	}

	url, err := s.gateway.CreatePortalSession(ctx, *profile.StripeCustomerID, s.siteURL+"/account")
	if err != nil {
		s.logger.Error("Portal session creation failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return "", &ServiceError{StatusCode: http.StatusInternalServerError, Message: "Payment provider error"}
	}
	return url, nil
}

func payerEmail(sess *stripe.CheckoutSession) string {
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		return sess.CustomerDetails.Email
	}
	return sess.CustomerEmail
}

func containsSlug(slugs []string, want string) bool {
	for _, s := range slugs {
		if s == want {
			return true
		}
	}
	return false
}
